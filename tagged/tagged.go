// Package tagged packs a small integer tag into the low bits of an address
// that alignment guarantees to be zero.
//
// Address works on raw word-aligned addresses. Pointer works on typed
// pointers and uses the alignment of the pointee type. Both panic when a tag
// does not fit below the alignment or an address is not aligned.
package tagged

import (
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// WordAlign is the alignment of a machine word. Address reserves the low
// log2(WordAlign) bits for its tag.
const WordAlign = unsafe.Alignof(uintptr(0))

// Check panics unless align is a power of two, addr is a multiple of align
// and tag < align.
func Check(addr, tag, align uintptr) {
	if align == 0 || bits.OnesCount64(uint64(align)) != 1 {
		panic(errors.AssertionFailedf("tagged: alignment %d is not a power of two", align))
	}
	if tag >= align {
		panic(errors.AssertionFailedf("tagged: tag %d does not fit below alignment %d", tag, align))
	}
	if addr&(align-1) != 0 {
		panic(errors.AssertionFailedf("tagged: address %#x is not aligned to %d", addr, align))
	}
}

// Address is a word-aligned address with a tag in its low bits.
type Address uintptr

const wordMask = WordAlign - 1

// NewAddress packs addr and tag. It panics if addr is not word aligned or
// tag >= WordAlign.
func NewAddress(addr, tag uintptr) Address {
	Check(addr, tag, WordAlign)
	return Address(addr | tag)
}

// Addr returns the address with the tag bits masked off.
func (a Address) Addr() uintptr {
	return uintptr(a) &^ wordMask
}

// Tag returns the tag bits.
func (a Address) Tag() uintptr {
	return uintptr(a) & wordMask
}

// SetAddr replaces the address, keeping the tag.
func (a *Address) SetAddr(addr uintptr) {
	*a = NewAddress(addr, a.Tag())
}

// SetTag replaces the tag, keeping the address.
func (a *Address) SetTag(tag uintptr) {
	*a = NewAddress(a.Addr(), tag)
}

// Raw returns the packed word.
func (a Address) Raw() uintptr {
	return uintptr(a)
}
