// Package workload drives the allocators with randomized operation mixes and
// checks them against a shadow model after every step.
package workload

import (
	"math/rand/v2"

	"go.uber.org/zap"
)

// verifyEvery is how many operations pass between full iteration checks.
const verifyEvery = 64

// Report summarizes one workload run.
type Report struct {
	Name     string
	Allocs   int
	Frees    int
	Rejected int // allocations refused because the allocator was full
	Verified int // full consistency checks performed
	Growths  int // arenas or backing blocks added
}

// Fields renders r as zap fields.
func (r Report) Fields() []zap.Field {
	return []zap.Field{
		zap.String("workload", r.Name),
		zap.Int("allocs", r.Allocs),
		zap.Int("frees", r.Frees),
		zap.Int("rejected", r.Rejected),
		zap.Int("verified", r.Verified),
		zap.Int("growths", r.Growths),
	}
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// record is the element type stored in arenas.
type record struct {
	id      uint32
	payload [7]uint32
}
