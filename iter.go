package memkit

import (
	"iter"
	"math/bits"
)

// All returns the allocated slots in ascending address order.
// The sequence is evaluated lazily and may be ranged over repeatedly.
// The arena must not be mutated while the sequence is being consumed.
func (a *Arena[T]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for i := a.next(0); i >= 0; i = a.next(i + 1) {
			if !yield(&a.buf[i]) {
				return
			}
		}
	}
}

// next returns the index of the first allocated slot at or after i, or -1.
// Slots at or beyond top are never allocated, so the scan stops there.
func (a *Arena[T]) next(i int) int {
	for i < a.top {
		wi, bi := i/ledgerWordBits, i%ledgerWordBits
		// Treat the bits below bi as free so they are skipped.
		w := a.ledger[wi] | (1<<bi - 1)
		if lowest := ^w & (w + 1); lowest != 0 {
			if j := wi*ledgerWordBits + bits.TrailingZeros32(lowest); j < a.top {
				return j
			}
			return -1
		}
		i = (wi + 1) * ledgerWordBits
	}
	return -1
}

// Len returns the number of allocated slots.
func (a *Arena[T]) Len() int {
	return a.live
}

// Cap returns the number of slots in the arena, or 0 once released.
func (a *Arena[T]) Cap() int {
	return len(a.buf)
}

// IsEmpty reports whether no slot is allocated.
func (a *Arena[T]) IsEmpty() bool {
	return a.live == 0
}

// IsFull reports whether every slot is allocated.
func (a *Arena[T]) IsFull() bool {
	return a.buf != nil && a.live == len(a.buf)
}
