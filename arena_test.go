package memkit

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type node struct {
	key   int64
	value int64
	next  *node
}

func TestNewArena(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		words    int
		lastWord uint32
	}{
		{"single slot", 1, 1, 0x1},
		{"one short of a word", 31, 1, 0x7fffffff},
		{"exactly one word", 32, 1, 0xffffffff},
		{"one past a word", 33, 2, 0x1},
		{"one and a half words", 48, 2, 0xffff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArena[node](tt.capacity)
			require.Equal(t, tt.capacity, a.Cap())
			require.Len(t, a.ledger, tt.words)
			require.Equal(t, tt.lastWord, a.ledger[len(a.ledger)-1])
			require.Equal(t, 0, a.top)
			require.True(t, a.IsEmpty())
		})
	}
}

func TestNewArenaPanics(t *testing.T) {
	require.Panics(t, func() { NewArena[node](0) })
	require.Panics(t, func() { NewArena[node](-1) })
	require.Panics(t, func() { NewArena[struct{}](8) })
}

func TestArenaExactCapacity(t *testing.T) {
	for _, n := range []int{1, 31, 32, 33, 100} {
		t.Run(fmt.Sprintf("capacity-%d", n), func(t *testing.T) {
			a := NewArena[node](n)
			for i := 0; i < n; i++ {
				p, ok := a.Allocate()
				require.True(t, ok, "allocation %d", i)
				require.NotNil(t, p)
			}
			p, ok := a.Allocate()
			require.False(t, ok)
			require.Nil(t, p)
			require.True(t, a.IsFull())
			require.Equal(t, n, a.Len())
		})
	}
}

func TestArenaFastAndSlowPathReuse(t *testing.T) {
	a := NewArena[node](48)
	slots := make([]*node, 48)
	for i := range slots {
		p, ok := a.Allocate()
		require.True(t, ok)
		slots[i] = p
	}

	for i := 1; i < 48; i += 2 {
		a.Deallocate(slots[i])
	}
	require.Equal(t, 24, a.Len())
	// Slot 47 was the top slot, but 46 is still allocated.
	require.Equal(t, 47, a.top)

	// The first refill reuses slot 47 through the bump cursor, the rest come
	// from the ledger scan in ascending order.
	var got []int
	for i := 0; i < 24; i++ {
		p, ok := a.Allocate()
		require.True(t, ok, "refill %d", i)
		idx, ok := a.Index(p)
		require.True(t, ok)
		got = append(got, idx)
	}
	_, ok := a.Allocate()
	require.False(t, ok)

	slices.Sort(got)
	var want []int
	for i := 1; i < 48; i += 2 {
		want = append(want, i)
	}
	require.Equal(t, want, got)
}

func TestArenaSlowPathPicksLowestFreeSlot(t *testing.T) {
	a := NewArena[node](70)
	slots := make([]*node, 70)
	for i := range slots {
		slots[i], _ = a.Allocate()
	}
	a.Deallocate(slots[65])
	a.Deallocate(slots[40])
	a.Deallocate(slots[3])

	for _, want := range []int{3, 40, 65} {
		p, ok := a.Allocate()
		require.True(t, ok)
		require.Same(t, slots[want], p)
	}
}

func TestArenaDeallocateIgnoresInvalidReferences(t *testing.T) {
	a := NewArena[node](4)
	other := NewArena[node](4)

	p, _ := a.Allocate()
	q, _ := other.Allocate()

	a.Deallocate(nil)
	a.Deallocate(q)
	a.Deallocate(&node{})
	require.Equal(t, 1, a.Len())
	require.Equal(t, 1, other.Len())

	a.Deallocate(p)
	require.Equal(t, 0, a.Len())
	// Second free of the same slot is a no-op.
	a.Deallocate(p)
	require.Equal(t, 0, a.Len())
	require.Equal(t, 0, a.top)
}

func TestArenaContainsIsStrict(t *testing.T) {
	backing := make([]node, 5)
	a := NewArena[node](4)
	a.buf = backing[:4]

	require.True(t, a.Contains(&backing[0]))
	require.True(t, a.Contains(&backing[3]))
	require.False(t, a.Contains(&backing[4]), "one past the end must be out of bounds")

	// Freeing the past-the-end element must not touch the ledger.
	before := slices.Clone(a.ledger)
	a.Deallocate(&backing[4])
	require.Equal(t, before, a.ledger)
}

func TestArenaTopRetraction(t *testing.T) {
	a := NewArena[node](10)
	slots := make([]*node, 10)
	for i := range slots {
		slots[i], _ = a.Allocate()
	}

	a.Deallocate(slots[9])
	a.Deallocate(slots[8])
	require.Equal(t, 8, a.Metrics().Top)

	a.Deallocate(slots[5])
	require.Equal(t, 8, a.Metrics().Top)

	a.Deallocate(slots[7])
	require.Equal(t, 7, a.Metrics().Top)

	// Freeing 6 exposes the run 5..6 below the cursor.
	a.Deallocate(slots[6])
	require.Equal(t, 5, a.Metrics().Top)

	// The fast path hands out slot 5 again.
	p, ok := a.Allocate()
	require.True(t, ok)
	require.Same(t, slots[5], p)
	require.Equal(t, 6, a.Metrics().Top)
}

func TestArenaAllocateWith(t *testing.T) {
	errInit := errors.New("init failed")

	t.Run("success", func(t *testing.T) {
		a := NewArena[node](2)
		p, err := a.AllocateWith(func(n *node) error {
			n.key = 7
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, int64(7), p.key)
		require.Equal(t, 1, a.Len())
	})

	t.Run("rollback on fast path", func(t *testing.T) {
		a := NewArena[node](4)
		a.Allocate()
		ledger, top := slices.Clone(a.ledger), a.top

		p, err := a.AllocateWith(func(n *node) error {
			n.key = 42
			return errInit
		})
		require.ErrorIs(t, err, errInit)
		require.Nil(t, p)
		require.Equal(t, ledger, a.ledger)
		require.Equal(t, top, a.top)
		require.Equal(t, 1, a.Len())
		require.Zero(t, a.buf[1].key)
	})

	t.Run("rollback on slow path", func(t *testing.T) {
		a := NewArena[node](4)
		slots := make([]*node, 4)
		for i := range slots {
			slots[i], _ = a.Allocate()
		}
		a.Deallocate(slots[1])
		ledger, top := slices.Clone(a.ledger), a.top

		var seen *node
		_, err := a.AllocateWith(func(n *node) error {
			seen = n
			return errInit
		})
		require.ErrorIs(t, err, errInit)
		require.Same(t, slots[1], seen)
		require.Equal(t, ledger, a.ledger)
		require.Equal(t, top, a.top)
		require.Equal(t, 3, a.Len())
	})

	t.Run("full", func(t *testing.T) {
		a := NewArena[node](1)
		a.Allocate()
		called := false
		_, err := a.AllocateWith(func(*node) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, ErrArenaFull)
		require.False(t, called)
	})
}

func TestArenaRollbackSkipsTeardown(t *testing.T) {
	torn := 0
	a := NewArena[node](2, WithTeardown(func(*node) { torn++ }))
	_, err := a.AllocateWith(func(*node) error { return errors.New("nope") })
	require.Error(t, err)
	require.Zero(t, torn)
}

func TestArenaIteration(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	a := NewArena[node](100)
	live := map[*node]bool{}

	for op := 0; op < 5000; op++ {
		if len(live) == 0 || rng.IntN(3) != 0 {
			if p, ok := a.Allocate(); ok {
				live[p] = true
			}
		} else {
			for p := range live {
				a.Deallocate(p)
				delete(live, p)
				break
			}
		}

		if op%50 != 0 {
			continue
		}
		var got []*node
		lastIdx := -1
		for p := range a.All() {
			idx, ok := a.Index(p)
			require.True(t, ok)
			require.Greater(t, idx, lastIdx, "iteration must ascend")
			lastIdx = idx
			require.True(t, live[p], "slot %d yielded but not live", idx)
			got = append(got, p)
		}
		require.Len(t, got, len(live))

		// Restartable: a second pass yields the same sequence.
		again := slices.Collect(a.All())
		require.Equal(t, got, again)
	}
}

func TestArenaIterationEarlyStop(t *testing.T) {
	a := NewArena[node](40)
	for i := 0; i < 40; i++ {
		a.Allocate()
	}
	n := 0
	for range a.All() {
		n++
		if n == 3 {
			break
		}
	}
	require.Equal(t, 3, n)
}

func TestArenaIterationAcrossWords(t *testing.T) {
	a := NewArena[node](96)
	slots := make([]*node, 96)
	for i := range slots {
		slots[i], _ = a.Allocate()
	}
	// Leave only 0, 31, 32, 63 and 95 allocated.
	keep := map[int]bool{0: true, 31: true, 32: true, 63: true, 95: true}
	for i, p := range slots {
		if !keep[i] {
			a.Deallocate(p)
		}
	}

	var got []int
	for p := range a.All() {
		i, _ := a.Index(p)
		got = append(got, i)
	}
	require.Equal(t, []int{0, 31, 32, 63, 95}, got)
}

func TestArenaZeroesFreedSlots(t *testing.T) {
	a := NewArena[node](1)
	p, _ := a.Allocate()
	p.key = 1
	p.next = &node{}
	a.Deallocate(p)

	q, ok := a.Allocate()
	require.True(t, ok)
	require.Same(t, p, q)
	require.Equal(t, node{}, *q)
}

func TestArenaTeardown(t *testing.T) {
	var torn []int64
	a := NewArena[node](8, WithTeardown(func(n *node) { torn = append(torn, n.key) }))
	slots := make([]*node, 5)
	for i := range slots {
		slots[i], _ = a.Allocate()
		slots[i].key = int64(i)
	}

	a.Deallocate(slots[2])
	require.Equal(t, []int64{2}, torn)

	a.Release()
	require.Equal(t, []int64{2, 0, 1, 3, 4}, torn)
}

func TestArenaRelease(t *testing.T) {
	a := NewArena[node](4)
	p, _ := a.Allocate()

	a.Release()
	require.Equal(t, 0, a.Cap())
	require.False(t, a.Contains(p))
	require.False(t, a.IsFull())

	// Deallocate after release is ignored; Allocate panics.
	a.Deallocate(p)
	a.Release()
	require.Panics(t, func() { a.Allocate() })
}

func TestLedgerPaddingStaysAllocated(t *testing.T) {
	a := NewArena[node](33)
	slots := make([]*node, 33)
	for i := range slots {
		slots[i], _ = a.Allocate()
	}
	require.Equal(t, []uint32{0, 0}, a.ledger)

	for _, p := range slots {
		a.Deallocate(p)
	}
	require.Equal(t, []uint32{0xffffffff, 0x1}, a.ledger)
	require.Equal(t, 0, a.top)
}

func BenchmarkArenaAllocate(b *testing.B) {
	b.Run("fast path", func(b *testing.B) {
		a := NewArena[node](1024)
		slots := make([]*node, 0, 1024)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			p, ok := a.Allocate()
			if !ok {
				for _, s := range slots {
					a.Deallocate(s)
				}
				slots = slots[:0]
				p, _ = a.Allocate()
			}
			slots = append(slots, p)
		}
	})

	b.Run("slow path", func(b *testing.B) {
		a := NewArena[node](1024)
		slots := make([]*node, 1024)
		for i := range slots {
			slots[i], _ = a.Allocate()
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			j := i % 1023 // never the top slot, so the cursor stays put
			a.Deallocate(slots[j])
			slots[j], _ = a.Allocate()
		}
	})
}
