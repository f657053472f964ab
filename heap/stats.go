package heap

// Stats contains statistical information about a heap.
type Stats struct {
	Origins    int     // Backing blocks obtained from the system allocator
	Chunks     int     // Chunks in the list, free or not
	FreeChunks int     // Chunks available for allocation
	Capacity   uintptr // Bytes across all backing blocks
	InUse      uintptr // Bytes handed out, after size rounding
	Free       uintptr // Bytes held by free chunks
}

// Utilization returns the ratio of InUse to Capacity (0.0 to 1.0).
func (s Stats) Utilization() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.InUse) / float64(s.Capacity)
}

// Stats returns a snapshot of heap statistics. It walks the chunk list.
func (h *Heap) Stats() Stats {
	s := Stats{
		Origins:  h.origins,
		Capacity: h.capacity,
		InUse:    h.inUse,
	}
	for c := h.head; c != nil; c = c.next {
		s.Chunks++
		if c.isFree() {
			s.FreeChunks++
			s.Free += c.size
		}
	}
	return s
}
