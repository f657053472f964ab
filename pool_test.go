package memkit

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewArenaPool(t *testing.T) {
	p := NewArenaPool[node](8)
	require.Equal(t, 0, p.NumArenas())
	require.Equal(t, 0, p.Len())

	require.Panics(t, func() { NewArenaPool[node](0) })
	require.Panics(t, func() { NewArenaPool[node](-3) })
}

func TestArenaPoolGrowsOnDemand(t *testing.T) {
	p := NewArenaPool[node](4)
	var got []*node
	for i := 0; i < 10; i++ {
		v := p.Allocate()
		require.NotNil(t, v)
		v.key = int64(i)
		got = append(got, v)
	}
	require.Equal(t, 3, p.NumArenas())
	require.Equal(t, 10, p.Len())
	for _, v := range got {
		require.True(t, p.Contains(v))
	}
	require.False(t, p.Contains(&node{}))

	// All yields arena by arena, each in slot order.
	var keys []int64
	for v := range p.All() {
		keys = append(keys, v.key)
	}
	require.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, keys)
}

func TestArenaPoolReusesFreedSlotsBeforeGrowing(t *testing.T) {
	p := NewArenaPool[node](2)
	a := p.Allocate()
	p.Allocate()
	p.Allocate()
	require.Equal(t, 2, p.NumArenas())

	p.Deallocate(a, false)
	b := p.Allocate()
	require.Same(t, a, b)
	require.Equal(t, 2, p.NumArenas())
}

func TestArenaPoolEvictsEmptyArenas(t *testing.T) {
	p := NewArenaPool[node](2)
	vs := make([]*node, 5)
	for i := range vs {
		vs[i] = p.Allocate()
	}
	require.Equal(t, 3, p.NumArenas())

	p.Deallocate(vs[2], false)
	require.Equal(t, 3, p.NumArenas())
	p.Deallocate(vs[3], false)
	require.Equal(t, 2, p.NumArenas())
	require.False(t, p.Contains(vs[2]))

	// The remaining arenas keep their order.
	var keys []*node
	for v := range p.All() {
		keys = append(keys, v)
	}
	require.Equal(t, []*node{vs[0], vs[1], vs[4]}, keys)
}

func TestArenaPoolKeepsEmptyArenas(t *testing.T) {
	p := NewArenaPool[node](2)
	a, b := p.Allocate(), p.Allocate()
	p.Deallocate(a, true)
	p.Deallocate(b, true)
	require.Equal(t, 1, p.NumArenas())
	require.Equal(t, 0, p.Len())

	// The kept arena is reused without growing.
	p.Allocate()
	require.Equal(t, 1, p.NumArenas())
}

func TestArenaPoolDeallocateForeign(t *testing.T) {
	p := NewArenaPool[node](2)
	p.Allocate()
	other := NewArena[node](2)
	q, _ := other.Allocate()

	p.Deallocate(q, false)
	p.Deallocate(nil, false)
	require.Equal(t, 1, p.Len())
	require.Equal(t, 1, other.Len())
}

func TestArenaPoolAllocateWith(t *testing.T) {
	errInit := errors.New("init failed")
	p := NewArenaPool[node](1)

	v, err := p.AllocateWith(func(n *node) error {
		n.key = 1
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), v.key)

	// The first arena is full, so the failed init lands in a new arena and
	// leaves it empty.
	_, err = p.AllocateWith(func(*node) error { return errInit })
	require.ErrorIs(t, err, errInit)
	require.Equal(t, 2, p.NumArenas())
	require.Equal(t, 1, p.Len())

	w, err := p.AllocateWith(func(n *node) error {
		n.key = 2
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, p.NumArenas())
	require.True(t, p.Contains(w))
}

func TestArenaPoolAppliesArenaOptions(t *testing.T) {
	torn := 0
	p := NewArenaPool[node](2, WithArenaOptions(WithTeardown(func(*node) { torn++ })))
	a := p.Allocate()
	p.Allocate()
	p.Allocate()

	p.Deallocate(a, false)
	require.Equal(t, 1, torn)

	p.Release()
	require.Equal(t, 3, torn)
	require.Equal(t, 0, p.NumArenas())
}

func TestArenaPoolLogsGrowthAndEviction(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewArenaPool[node](1, WithLogger[node](zap.New(core)))

	a := p.Allocate()
	p.Allocate()
	p.Deallocate(a, false)

	grew := logs.FilterMessage("arena pool grew").All()
	require.Len(t, grew, 2)
	require.Equal(t, int64(2), grew[1].ContextMap()["arenas"])

	evicted := logs.FilterMessage("arena pool evicted empty arena").All()
	require.Len(t, evicted, 1)
	require.Equal(t, int64(0), evicted[0].ContextMap()["index"])
	require.Equal(t, int64(1), evicted[0].ContextMap()["arenas"])
}

func BenchmarkArenaPool(b *testing.B) {
	b.Run("pool", func(b *testing.B) {
		p := NewArenaPool[node](256)
		live := make([]*node, 0, 1024)
		for i := 0; i < b.N; i++ {
			live = append(live, p.Allocate())
			if len(live) == cap(live) {
				for _, v := range live {
					p.Deallocate(v, true)
				}
				live = live[:0]
			}
		}
	})

	b.Run("builtin", func(b *testing.B) {
		live := make([]*node, 0, 1024)
		for i := 0; i < b.N; i++ {
			live = append(live, new(node))
			if len(live) == cap(live) {
				clear(live)
				live = live[:0]
			}
		}
	})
}
