package tagged

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Align returns the number of distinct tags a Pointer[T] can carry: the
// alignment of T, or 1 when T has zero size.
func Align[T any]() uintptr {
	var zero T
	if unsafe.Sizeof(zero) == 0 {
		return 1
	}
	return unsafe.Alignof(zero)
}

// Pointer is a *T with a tag stored in the bits reserved by T's alignment.
//
// The packed value is kept as an interior pointer into the pointee, so the
// garbage collector still sees the object as reachable. A nil Pointer can
// only carry tag 0.
type Pointer[T any] struct {
	p unsafe.Pointer
}

// NewPointer packs p and tag. It panics if tag >= Align[T]() or if a
// non-zero tag is combined with a nil pointer.
func NewPointer[T any](p *T, tag uintptr) Pointer[T] {
	align := Align[T]()
	Check(uintptr(unsafe.Pointer(p)), tag, align)
	if p == nil {
		if tag != 0 {
			panic(errors.AssertionFailedf("tagged: tag %d on a nil pointer", tag))
		}
		return Pointer[T]{}
	}
	return Pointer[T]{p: unsafe.Add(unsafe.Pointer(p), tag)}
}

func (tp Pointer[T]) mask() uintptr {
	return Align[T]() - 1
}

// Pointer returns the pointer with the tag bits masked off.
func (tp Pointer[T]) Pointer() *T {
	return (*T)(unsafe.Add(tp.p, -int(tp.Tag())))
}

// Tag returns the tag bits.
func (tp Pointer[T]) Tag() uintptr {
	return uintptr(tp.p) & tp.mask()
}

// IsNil reports whether the untagged pointer is nil.
func (tp Pointer[T]) IsNil() bool {
	return tp.p == nil
}

// SetPointer replaces the pointer, keeping the tag.
func (tp *Pointer[T]) SetPointer(p *T) {
	*tp = NewPointer(p, tp.Tag())
}

// SetTag replaces the tag, keeping the pointer.
func (tp *Pointer[T]) SetTag(tag uintptr) {
	*tp = NewPointer(tp.Pointer(), tag)
}
