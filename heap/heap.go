// Package heap implements a variable-size first-fit allocator over blocks
// obtained from a system allocator.
package heap

import (
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/pavanmanishd/memkit/internal/sysmem"
	"github.com/pavanmanishd/memkit/tagged"
)

// DefaultMinChunkSize is the default minimum size of a backing block (64 KiB).
const DefaultMinChunkSize = 1 << 16

// indexDegree is the btree degree of the address index.
const indexDegree = 16

// ErrOutOfMemory is matched (via errors.Is) by every error returned when the
// system allocator cannot supply a new backing block.
var ErrOutOfMemory = errors.New("heap: out of memory")

// Heap is a general-purpose allocator for aligned byte ranges.
//
// Chunks are kept in a list ordered by insertion and searched first-fit.
// Allocation splits chunks around the requested range; deallocation merges a
// freed chunk with free list neighbours. A btree indexes chunks by base
// address for lookups. Not goroutine-safe; callers must serialize access.
type Heap struct {
	head         *chunk
	index        *btree.BTreeG[*chunk]
	sys          sysmem.Allocator
	minChunkSize uintptr
	logger       *zap.Logger

	origins  int
	capacity uintptr
	inUse    uintptr
}

// Option configures a Heap.
type Option func(*Heap)

// WithMinChunkSize sets the minimum size of a backing block. Values that are
// not positive leave the default in place.
func WithMinChunkSize(n int) Option {
	return func(h *Heap) {
		if n > 0 {
			h.minChunkSize = alignUp(uintptr(n), tagged.WordAlign)
		}
	}
}

// WithAllocator sets the system allocator backing blocks are taken from.
func WithAllocator(sys sysmem.Allocator) Option {
	return func(h *Heap) {
		h.sys = sys
	}
}

// WithLogger sets the logger used for block acquisition and release.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Heap) {
		h.logger = logger
	}
}

// New creates an empty heap. No memory is reserved until the first
// allocation.
func New(opts ...Option) *Heap {
	h := &Heap{
		index:        btree.NewG(indexDegree, chunkLess),
		sys:          sysmem.NewGo(),
		minChunkSize: DefaultMinChunkSize,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Allocate returns size bytes aligned to align, which must be a power of
// two. Alignments below the machine word are raised to it and sizes are
// rounded up to whole words. The memory is not zeroed.
func (h *Heap) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	c, err := h.allocate(size, align)
	if err != nil {
		return nil, err
	}
	return c.pointer(), nil
}

// AllocateBytes is like Allocate but returns the memory as a slice of n
// bytes.
func (h *Heap) AllocateBytes(n int, align uintptr) ([]byte, error) {
	if n < 0 {
		panic(errors.AssertionFailedf("heap: negative size %d", n))
	}
	c, err := h.allocate(uintptr(n), align)
	if err != nil {
		return nil, err
	}
	return c.bytes(uintptr(n)), nil
}

func (h *Heap) allocate(size, align uintptr) (*chunk, error) {
	if align == 0 || bits.OnesCount64(uint64(align)) != 1 {
		panic(errors.AssertionFailedf("heap: alignment %d is not a power of two", align))
	}
	align = max(align, tagged.WordAlign)
	if size > ^uintptr(0)-align-tagged.WordAlign {
		return nil, errors.Mark(errors.Newf("heap: %d byte allocation at alignment %d overflows", size, align), ErrOutOfMemory)
	}
	size = max(alignUp(size, tagged.WordAlign), tagged.WordAlign)

	for c := h.head; c != nil; c = c.next {
		if got := h.carve(c, size, align); got != nil {
			return got, nil
		}
	}

	c, err := h.grow(size, align)
	if err != nil {
		return nil, err
	}
	got := h.carve(c, size, align)
	if got == nil {
		return nil, errors.Mark(errors.AssertionFailedf("heap: %d byte block cannot hold %d bytes at alignment %d", c.size, size, align), ErrOutOfMemory)
	}
	return got, nil
}

// carve allocates size bytes at the first align boundary inside c, splitting
// off leading padding and trailing remainder as free chunks. It returns nil
// if c is in use or too small.
func (h *Heap) carve(c *chunk, size, align uintptr) *chunk {
	if !c.isFree() {
		return nil
	}
	start := alignUp(c.addr(), align)
	pad := start - c.addr()
	if pad >= c.size || c.size-pad < size {
		return nil
	}

	if pad > 0 {
		// c keeps the padding and stays free.
		n := newChunk(start, c.size-pad, true, c.origin)
		n.next = c.next
		c.size = pad
		c.next = n
		h.index.ReplaceOrInsert(n)
		c = n
	}

	c.setFree(false)
	if c.size > size {
		rest := newChunk(c.addr()+size, c.size-size, true, c.origin)
		rest.next = c.next
		c.size = size
		c.next = rest
		h.index.ReplaceOrInsert(rest)
	}
	h.inUse += c.size
	return c
}

// grow obtains a backing block large enough for size bytes at align and
// pushes it to the front of the list as a free origin chunk.
func (h *Heap) grow(size, align uintptr) (*chunk, error) {
	n := size
	if align > tagged.WordAlign {
		n += align - tagged.WordAlign
	}
	n = max(n, h.minChunkSize)

	block, err := h.sys.Alloc(n)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "heap: reserving %d byte block", n), ErrOutOfMemory)
	}
	if uintptr(len(block)) < n {
		return nil, errors.Mark(errors.Newf("heap: system allocator returned %d of %d bytes", len(block), n), ErrOutOfMemory)
	}
	c := newOriginChunk(block, n)
	c.next = h.head
	h.head = c
	h.index.ReplaceOrInsert(c)
	h.origins++
	h.capacity += n

	h.logger.Debug("heap acquired block",
		zap.Uintptr("addr", c.addr()),
		zap.Uintptr("size", n),
		zap.Int("blocks", h.origins),
	)
	return c, nil
}

// Deallocate frees the allocation starting at p and merges it with free list
// neighbours. Pointers that are not the start of a live allocation are
// ignored.
func (h *Heap) Deallocate(p unsafe.Pointer) {
	c := h.lookup(uintptr(p))
	if c == nil || c.isFree() {
		return
	}
	c.setFree(true)
	h.inUse -= c.size

	// Merge forward. The next chunk is only contiguous when it is not the
	// start of another block.
	if n := c.next; n != nil && n.isFree() && !n.isOrigin() && c.end() == n.addr() {
		c.size += n.size
		c.next = n.next
		h.index.Delete(n)
	}

	// Merge backward into the list predecessor.
	if !c.isOrigin() {
		if prev := h.prev(c); prev != nil && prev.next == c && prev.isFree() {
			prev.size += c.size
			prev.next = c.next
			h.index.Delete(c)
		}
	}
}

// lookup returns the chunk based at addr, or nil.
func (h *Heap) lookup(addr uintptr) *chunk {
	if addr == 0 || addr%tagged.WordAlign != 0 {
		return nil
	}
	c, ok := h.index.Get(keyAt(addr))
	if !ok {
		return nil
	}
	return c
}

// prev returns the chunk with the highest base address below c's.
func (h *Heap) prev(c *chunk) *chunk {
	var p *chunk
	h.index.DescendLessOrEqual(c, func(item *chunk) bool {
		if item == c {
			return true
		}
		p = item
		return false
	})
	return p
}

// UsableSize returns the size of the live allocation starting at p.
func (h *Heap) UsableSize(p unsafe.Pointer) (uintptr, bool) {
	c := h.lookup(uintptr(p))
	if c == nil || c.isFree() {
		return 0, false
	}
	return c.size, true
}

// Owns reports whether p is the start of a live allocation from h.
func (h *Heap) Owns(p unsafe.Pointer) bool {
	_, ok := h.UsableSize(p)
	return ok
}

// Release returns every backing block to the system allocator and empties
// the heap. All pointers obtained from h become invalid. The heap may be
// used again afterwards. The first error from the system allocator is
// returned after every block has been offered back.
func (h *Heap) Release() error {
	var firstErr error
	for c := h.head; c != nil; c = c.next {
		if !c.isOrigin() {
			continue
		}
		if err := h.sys.Free(c.block); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "heap: releasing block")
		}
		h.logger.Debug("heap released block",
			zap.Uintptr("addr", c.addr()),
			zap.Int("size", len(c.block)),
		)
	}
	h.head = nil
	h.index.Clear(false)
	h.origins = 0
	h.capacity = 0
	h.inUse = 0
	return firstErr
}

// alignUp rounds n up to a multiple of align, which must be a power of two.
func alignUp(n, align uintptr) uintptr {
	mask := align - 1
	return (n + mask) &^ mask
}
