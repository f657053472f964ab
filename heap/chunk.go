package heap

import (
	"unsafe"

	"github.com/pavanmanishd/memkit/tagged"
)

// Tag bits carried in a chunk's base address.
const (
	flagFree   uintptr = 1 << 0
	flagOrigin uintptr = 1 << 1
)

// chunk is a byte range tracked by the heap. Chunks form a singly linked list
// in insertion order: a chunk split from another is linked right after it,
// so within one backing block list order matches address order.
type chunk struct {
	base tagged.Address
	size uintptr
	next *chunk

	// origin is the chunk at the start of the backing block this chunk
	// lives in; for origin chunks it points to itself.
	origin *chunk
	// block is the backing block, set on origin chunks only.
	block []byte
}

func (c *chunk) addr() uintptr { return c.base.Addr() }
func (c *chunk) end() uintptr { return c.base.Addr() + c.size }
func (c *chunk) isFree() bool { return c.base.Tag()&flagFree != 0 }
func (c *chunk) isOrigin() bool { return c.base.Tag()&flagOrigin != 0 }
func (c *chunk) setFree(free bool) {
	if free {
		c.base.SetTag(c.base.Tag() | flagFree)
	} else {
		c.base.SetTag(c.base.Tag() &^ flagFree)
	}
}

// pointer returns the chunk's first byte, derived from the backing block so
// the result stays a valid Go pointer.
func (c *chunk) pointer() unsafe.Pointer {
	o := c.origin
	return unsafe.Pointer(&o.block[c.addr()-o.addr()])
}

// bytes returns the chunk's memory as a slice of n bytes.
func (c *chunk) bytes(n uintptr) []byte {
	o := c.origin
	off := c.addr() - o.addr()
	return o.block[off : off+n : off+c.size]
}

// newChunk returns a non-origin chunk at addr inside origin's block.
func newChunk(addr, size uintptr, free bool, origin *chunk) *chunk {
	var tag uintptr
	if free {
		tag = flagFree
	}
	return &chunk{
		base:   tagged.NewAddress(addr, tag),
		size:   size,
		origin: origin,
	}
}

// newOriginChunk returns a free origin chunk covering the first size bytes
// of block.
func newOriginChunk(block []byte, size uintptr) *chunk {
	c := &chunk{
		base:  tagged.NewAddress(uintptr(unsafe.Pointer(unsafe.SliceData(block))), flagFree|flagOrigin),
		size:  size,
		block: block,
	}
	c.origin = c
	return c
}

// chunkLess orders chunks by base address for the address index.
func chunkLess(a, b *chunk) bool {
	return a.addr() < b.addr()
}

// keyAt returns a key for looking up the chunk based at addr.
func keyAt(addr uintptr) *chunk {
	return &chunk{base: tagged.Address(addr)}
}
