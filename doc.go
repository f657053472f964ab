// Package memkit implements fixed-capacity slot arenas for Go.
//
// # Overview
//
// An Arena holds exactly N values of one type in a single contiguous buffer
// and tracks which slots are in use with a bitmap ledger. It is useful for:
//
//   - Node storage for linked structures (lists, trees, graphs)
//   - Reusing a bounded set of objects without going through the GC
//   - Predictable, allocation-free steady state after warm-up
//
// Sibling packages provide a variable-size heap (package heap) and
// pointer tagging (package tagged).
//
// # Basic Usage
//
//	a := memkit.NewArena[node](1024)
//	defer a.Release()
//
//	n, ok := a.Allocate() // zeroed *node, or false when full
//	a.Deallocate(n)
//
//	for n := range a.All() { // allocated slots in address order
//		...
//	}
//
// # Arena Pools
//
// When the number of values is not known up front, an ArenaPool grows by
// whole arenas and can drop arenas that become empty:
//
//	p := memkit.NewArenaPool[node](256)
//	n := p.Allocate()
//	p.Deallocate(n, false) // evict the arena if it is now empty
//
// # Ledger Layout
//
// The ledger is a sequence of 32-bit words, one bit per slot in slot order.
// A set bit means the slot is free. Slots above a bump cursor have never been
// handed out; while the cursor is below capacity allocation is O(1). Once the
// cursor reaches capacity, allocation scans the ledger for the lowest free
// slot. Freeing the slot just below the cursor pulls the cursor back over any
// trailing free slots.
//
// # Thread Safety
//
// Nothing in this module is goroutine-safe. Callers sharing an arena, pool or
// heap between goroutines must provide their own locking.
//
// # Important Notes
//
//   - Pointers returned by an arena are valid until they are deallocated or
//     the arena is released
//   - Deallocating a foreign or already free pointer is a no-op
//   - Freed slots are zeroed so they no longer keep other objects alive
//   - Zero-sized element types are rejected
package memkit
