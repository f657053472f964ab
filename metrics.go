package memkit

// ArenaMetrics contains statistical information about an arena.
type ArenaMetrics struct {
	Capacity    int     // Number of slots
	InUse       int     // Slots currently allocated
	Top         int     // Bump cursor; slots at or above it were never used
	Utilization float64 // Ratio of allocated slots to capacity (0.0-1.0)
}

// Utilization returns the ratio of allocated slots to capacity (0.0 to 1.0).
// Returns 0.0 for a released arena.
func (a *Arena[T]) Utilization() float64 {
	if len(a.buf) == 0 {
		return 0
	}
	return float64(a.live) / float64(len(a.buf))
}

// Metrics returns a snapshot of arena statistics.
func (a *Arena[T]) Metrics() ArenaMetrics {
	return ArenaMetrics{
		Capacity:    a.Cap(),
		InUse:       a.Len(),
		Top:         a.top,
		Utilization: a.Utilization(),
	}
}

// PoolMetrics contains statistical information about an arena pool.
type PoolMetrics struct {
	NumArenas     int     // Arenas currently in the pool
	ArenaCapacity int     // Slots per arena
	InUse         int     // Slots allocated across all arenas
	Capacity      int     // Slots across all arenas
	Utilization   float64 // Ratio of InUse to Capacity (0.0-1.0)
}

// Metrics returns a snapshot of pool statistics.
func (p *ArenaPool[T]) Metrics() PoolMetrics {
	m := PoolMetrics{
		NumArenas:     len(p.arenas),
		ArenaCapacity: p.arenaCapacity,
	}
	for _, a := range p.arenas {
		m.InUse += a.Len()
		m.Capacity += a.Cap()
	}
	if m.Capacity > 0 {
		m.Utilization = float64(m.InUse) / float64(m.Capacity)
	}
	return m
}
