package workload

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/pavanmanishd/memkit"
	"github.com/pavanmanishd/memkit/internal/config"
)

// RunPool allocates and frees records through an arena pool at random.
// Live records are tracked by id in a roaring bitmap.
func RunPool(cfg config.PoolConfig, seed int64, logger *zap.Logger) (Report, error) {
	rng := newRand(seed)
	r := Report{Name: "pool"}

	p := memkit.NewArenaPool[record](cfg.ArenaCapacity, memkit.WithLogger[record](logger))
	defer p.Release()

	live := roaring.New()
	byID := make(map[uint32]*record)
	var nextID uint32

	for op := 0; op < cfg.Ops; op++ {
		// Bias towards allocation so the pool keeps growing and shrinking.
		if live.IsEmpty() || rng.IntN(5) < 3 {
			arenas := p.NumArenas()
			v := p.Allocate()
			if v.id != 0 {
				return r, errors.Newf("pool returned a non-zero record %d", v.id)
			}
			if p.NumArenas() > arenas {
				r.Growths++
			}
			nextID++
			v.id = nextID
			live.Add(nextID)
			byID[nextID] = v
			r.Allocs++
		} else {
			id, err := live.Select(uint32(rng.IntN(int(live.GetCardinality()))))
			if err != nil {
				return r, errors.Wrap(err, "selecting live record")
			}
			v := byID[id]
			if !p.Contains(v) {
				return r, errors.Newf("pool lost record %d", id)
			}
			p.Deallocate(v, cfg.KeepEmptyArenas)
			live.Remove(id)
			delete(byID, id)
			r.Frees++
		}

		if op%verifyEvery == 0 {
			if err := verifyPool(p, live, cfg); err != nil {
				return r, errors.Wrapf(err, "after op %d", op)
			}
			r.Verified++
		}
	}

	if err := verifyPool(p, live, cfg); err != nil {
		return r, err
	}
	r.Verified++
	return r, nil
}

func verifyPool(p *memkit.ArenaPool[record], live *roaring.Bitmap, cfg config.PoolConfig) error {
	m := p.Metrics()
	if m.InUse != int(live.GetCardinality()) {
		return errors.Newf("pool reports %d live records, model has %d", m.InUse, live.GetCardinality())
	}
	if !cfg.KeepEmptyArenas && m.InUse == 0 && m.NumArenas != 0 {
		return errors.Newf("pool kept %d empty arenas", m.NumArenas)
	}
	seen := roaring.New()
	for v := range p.All() {
		if !seen.CheckedAdd(v.id) {
			return errors.Newf("record %d yielded twice", v.id)
		}
	}
	if !seen.Equals(live) {
		return errors.Newf("iteration yielded %d records, model has %d", seen.GetCardinality(), live.GetCardinality())
	}
	return nil
}
