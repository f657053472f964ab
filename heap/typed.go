package heap

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Alloc returns a pointer to a zeroed T allocated from h.
// T must not contain Go pointers: heap memory is not scanned by the garbage
// collector.
func Alloc[T any](h *Heap) (*T, error) {
	var zero T
	p, err := h.Allocate(unsafe.Sizeof(zero), unsafe.Alignof(zero))
	if err != nil {
		return nil, err
	}
	t := (*T)(p)
	*t = zero
	return t, nil
}

// AllocSlice allocates a slice of n zeroed elements of type T from h.
// Returns nil if n <= 0. The same pointer restriction as Alloc applies.
func AllocSlice[T any](h *Heap, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	var zero T
	elemSize := unsafe.Sizeof(zero)
	if elemSize > 0 && uintptr(n) > ^uintptr(0)/elemSize {
		return nil, errors.Mark(errors.Newf("heap: slice of %d elements of %d bytes overflows", n, elemSize), ErrOutOfMemory)
	}
	p, err := h.Allocate(elemSize*uintptr(n), unsafe.Alignof(zero))
	if err != nil {
		return nil, err
	}
	s := unsafe.Slice((*T)(p), n)
	clear(s)
	return s, nil
}

// Free returns the memory behind t, which must come from Alloc or be the
// first element of a slice from AllocSlice.
func Free[T any](h *Heap, t *T) {
	h.Deallocate(unsafe.Pointer(t))
}
