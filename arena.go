package memkit

import (
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// ledgerWordBits is the number of slots tracked by one ledger word.
const ledgerWordBits = 32

// ErrArenaFull is returned by AllocateWith when no slot is free.
var ErrArenaFull = errors.New("memkit: arena is full")

// Arena is a fixed-capacity allocator for values of type T.
// Not goroutine-safe; callers must serialize access.
type Arena[T any] struct {
	buf      []T
	ledger   []uint32 // one bit per slot, 1 = free
	top      int      // one past the highest slot ever bump-allocated
	live     int
	elemSize uintptr
	teardown func(*T)
}

// ArenaOption configures an Arena.
type ArenaOption[T any] func(*Arena[T])

// WithTeardown registers fn to run on a slot whose value is going away,
// either through Deallocate or through Release.
func WithTeardown[T any](fn func(*T)) ArenaOption[T] {
	return func(a *Arena[T]) {
		a.teardown = fn
	}
}

// NewArena creates an Arena with room for exactly capacity values.
// It panics if capacity <= 0 or T has zero size.
func NewArena[T any](capacity int, opts ...ArenaOption[T]) *Arena[T] {
	if capacity <= 0 {
		panic(errors.AssertionFailedf("memkit: arena capacity must be positive, got %d", capacity))
	}
	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 {
		panic(errors.AssertionFailedf("memkit: arena element type %T has zero size", zero))
	}

	a := &Arena[T]{
		buf:      make([]T, capacity),
		ledger:   newLedger(capacity),
		elemSize: size,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// newLedger returns a ledger with every slot below capacity marked free and
// the padding bits of the last word clamped to allocated.
func newLedger(capacity int) []uint32 {
	ledger := make([]uint32, (capacity+ledgerWordBits-1)/ledgerWordBits)
	for i := range ledger {
		ledger[i] = ^uint32(0)
	}
	if r := capacity % ledgerWordBits; r != 0 {
		ledger[len(ledger)-1] = 1<<r - 1
	}
	return ledger
}

// Allocate claims a free slot and returns a pointer to it.
// The slot holds the zero value of T. It returns false if the arena is full.
func (a *Arena[T]) Allocate() (*T, bool) {
	a.panicIfReleased()
	i, ok := a.claim()
	if !ok {
		return nil, false
	}
	return &a.buf[i], true
}

// claim marks a free slot allocated and returns its index.
func (a *Arena[T]) claim() (int, bool) {
	// Fast path: bump allocate a never-used slot
	if a.top < len(a.buf) {
		i := a.top
		a.ledger[i/ledgerWordBits] &^= 1 << (i % ledgerWordBits)
		a.top++
		a.live++
		return i, true
	}

	// Slow path: reuse the lowest freed slot
	for wi, w := range a.ledger {
		if w == 0 {
			continue
		}
		lowest := w & -w
		a.ledger[wi] = w &^ lowest
		a.live++
		return wi*ledgerWordBits + bits.TrailingZeros32(lowest), true
	}
	return 0, false
}

// AllocateWith claims a slot and runs init on it. If init fails the claim is
// rolled back and init's error is returned; the arena is left unchanged.
func (a *Arena[T]) AllocateWith(init func(*T) error) (*T, error) {
	a.panicIfReleased()
	i, ok := a.claim()
	if !ok {
		return nil, ErrArenaFull
	}
	if err := init(&a.buf[i]); err != nil {
		a.release(i, false)
		return nil, err
	}
	return &a.buf[i], nil
}

// Deallocate returns the slot p points to. References outside the arena and
// slots that are already free are ignored.
func (a *Arena[T]) Deallocate(p *T) {
	i, ok := a.indexOf(p)
	if !ok || a.isFree(i) {
		return
	}
	a.release(i, true)
}

// release marks slot i free and retracts top over trailing free slots.
func (a *Arena[T]) release(i int, teardown bool) {
	if teardown && a.teardown != nil {
		a.teardown(&a.buf[i])
	}
	var zero T
	a.buf[i] = zero
	a.ledger[i/ledgerWordBits] |= 1 << (i % ledgerWordBits)
	a.live--

	if i == a.top-1 {
		for a.top > 0 && a.isFree(a.top-1) {
			a.top--
		}
	}
}

// Contains reports whether p points at a slot of this arena.
func (a *Arena[T]) Contains(p *T) bool {
	_, ok := a.indexOf(p)
	return ok
}

// Index returns the slot number of p, whether or not the slot is allocated.
func (a *Arena[T]) Index(p *T) (int, bool) {
	return a.indexOf(p)
}

// indexOf maps p to its slot index.
func (a *Arena[T]) indexOf(p *T) (int, bool) {
	if p == nil || a.buf == nil {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.buf)))
	addr := uintptr(unsafe.Pointer(p))
	if addr < base {
		return 0, false
	}
	off := addr - base
	if off%a.elemSize != 0 {
		return 0, false
	}
	i := off / a.elemSize
	if i >= uintptr(len(a.buf)) {
		return 0, false
	}
	return int(i), true
}

func (a *Arena[T]) isFree(i int) bool {
	return a.ledger[i/ledgerWordBits]&(1<<(i%ledgerWordBits)) != 0
}

// Release runs the teardown hook on every allocated slot and drops the
// backing storage. Any subsequent Allocate will panic.
func (a *Arena[T]) Release() {
	if a.buf == nil {
		return
	}
	if a.teardown != nil {
		for p := range a.All() {
			a.teardown(p)
		}
	}
	a.buf = nil
	a.ledger = nil
	a.top = 0
	a.live = 0
}

// panicIfReleased panics if the arena has been released.
func (a *Arena[T]) panicIfReleased() {
	if a.buf == nil {
		panic("memkit: use after Release()")
	}
}
