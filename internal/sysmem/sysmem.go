// Package sysmem provides the system allocators that back heap blocks.
package sysmem

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
)

//go:generate mockgen -destination=mock_sysmem/mock_allocator.go -package=mock_sysmem . Allocator

// Allocator hands out raw blocks of memory. Blocks are aligned to at least
// the machine word size.
type Allocator interface {
	// Alloc returns a block of exactly size bytes.
	Alloc(size uintptr) ([]byte, error)
	// Free returns a block obtained from Alloc.
	Free(block []byte) error
}

const (
	KindGo   = "go"
	KindMmap = "mmap"
)

// New returns the allocator named by kind.
func New(kind string) (Allocator, error) {
	switch kind {
	case "", KindGo:
		return NewGo(), nil
	case KindMmap:
		return NewMmap(), nil
	default:
		return nil, errors.Newf("sysmem: unknown allocator kind %q", kind)
	}
}

type goAllocator struct{}

// NewGo returns an allocator backed by the Go heap. Free is a no-op; blocks
// are reclaimed by the garbage collector once unreferenced.
func NewGo() Allocator {
	return goAllocator{}
}

func (goAllocator) Alloc(size uintptr) ([]byte, error) {
	if size == 0 {
		return nil, errors.New("sysmem: zero-sized block")
	}
	if size > math.MaxInt/2 {
		return nil, errors.Newf("sysmem: %d byte block exceeds the Go heap limit", size)
	}
	// Allocate words so the block is word aligned.
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), size), nil
}

func (goAllocator) Free([]byte) error {
	return nil
}
