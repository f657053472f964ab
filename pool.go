package memkit

import (
	"iter"
	"slices"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ArenaPool is a growable sequence of equally sized arenas of T.
// Arenas are created on demand when every existing one is full.
// Not goroutine-safe; callers must serialize access.
type ArenaPool[T any] struct {
	arenaCapacity int
	arenas        []*Arena[T]
	arenaOpts     []ArenaOption[T]
	logger        *zap.Logger
}

// PoolOption configures an ArenaPool.
type PoolOption[T any] func(*ArenaPool[T])

// WithArenaOptions applies opts to every arena the pool creates.
func WithArenaOptions[T any](opts ...ArenaOption[T]) PoolOption[T] {
	return func(p *ArenaPool[T]) {
		p.arenaOpts = append(p.arenaOpts, opts...)
	}
}

// WithLogger sets the logger used for pool growth and eviction events.
func WithLogger[T any](logger *zap.Logger) PoolOption[T] {
	return func(p *ArenaPool[T]) {
		p.logger = logger
	}
}

// NewArenaPool creates an empty pool whose arenas each hold arenaCapacity
// values. It panics if arenaCapacity <= 0.
func NewArenaPool[T any](arenaCapacity int, opts ...PoolOption[T]) *ArenaPool[T] {
	if arenaCapacity <= 0 {
		panic(errors.AssertionFailedf("memkit: arena capacity must be positive, got %d", arenaCapacity))
	}
	p := &ArenaPool[T]{
		arenaCapacity: arenaCapacity,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Allocate returns a zeroed slot from the first arena with room, growing the
// pool by one arena when all are full.
func (p *ArenaPool[T]) Allocate() *T {
	for _, a := range p.arenas {
		if v, ok := a.Allocate(); ok {
			return v
		}
	}
	v, _ := p.grow().Allocate()
	return v
}

// AllocateWith is like Allocate but runs init on the slot. If init fails the
// claim is rolled back and init's error is returned.
func (p *ArenaPool[T]) AllocateWith(init func(*T) error) (*T, error) {
	for _, a := range p.arenas {
		if a.IsFull() {
			continue
		}
		return a.AllocateWith(init)
	}
	return p.grow().AllocateWith(init)
}

// grow appends a fresh arena to the pool.
func (p *ArenaPool[T]) grow() *Arena[T] {
	a := NewArena(p.arenaCapacity, p.arenaOpts...)
	p.arenas = append(p.arenas, a)
	p.logger.Debug("arena pool grew",
		zap.Int("arenas", len(p.arenas)),
		zap.Int("arena capacity", p.arenaCapacity),
	)
	return a
}

// Deallocate returns v to its owning arena. Unless keepEmptyArenas is set,
// an arena left without allocated slots is released and removed.
// References that belong to no arena are ignored.
func (p *ArenaPool[T]) Deallocate(v *T, keepEmptyArenas bool) {
	i := p.owner(v)
	if i < 0 {
		return
	}
	a := p.arenas[i]
	a.Deallocate(v)
	if keepEmptyArenas || !a.IsEmpty() {
		return
	}
	a.Release()
	p.arenas = slices.Delete(p.arenas, i, i+1)
	p.logger.Debug("arena pool evicted empty arena",
		zap.Int("index", i),
		zap.Int("arenas", len(p.arenas)),
	)
}

// owner returns the index of the arena containing v, or -1.
func (p *ArenaPool[T]) owner(v *T) int {
	for i, a := range p.arenas {
		if a.Contains(v) {
			return i
		}
	}
	return -1
}

// Contains reports whether v points into one of the pool's arenas.
func (p *ArenaPool[T]) Contains(v *T) bool {
	return p.owner(v) >= 0
}

// All returns every allocated slot, arena by arena in insertion order.
func (p *ArenaPool[T]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for _, a := range p.arenas {
			for v := range a.All() {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// NumArenas returns the number of arenas currently in the pool.
func (p *ArenaPool[T]) NumArenas() int {
	return len(p.arenas)
}

// Len returns the number of allocated slots across all arenas.
func (p *ArenaPool[T]) Len() int {
	n := 0
	for _, a := range p.arenas {
		n += a.Len()
	}
	return n
}

// Release releases every arena and empties the pool.
func (p *ArenaPool[T]) Release() {
	for _, a := range p.arenas {
		a.Release()
	}
	p.arenas = nil
}
