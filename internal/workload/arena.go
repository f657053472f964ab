package workload

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"

	"github.com/pavanmanishd/memkit"
	"github.com/pavanmanishd/memkit/internal/config"
)

// RunArena allocates and frees slots of a single arena at random. The set of
// live slots is mirrored in a roaring bitmap and compared with the arena's
// own iteration.
func RunArena(cfg config.ArenaConfig, seed int64) (Report, error) {
	rng := newRand(seed)
	r := Report{Name: "arena"}

	a := memkit.NewArena[record](cfg.Capacity)
	defer a.Release()

	live := roaring.New()
	slots := make([]*record, cfg.Capacity)
	var nextID uint32

	for op := 0; op < cfg.Ops; op++ {
		if live.IsEmpty() || rng.IntN(2) == 0 {
			p, ok := a.Allocate()
			if !ok {
				if n := live.GetCardinality(); n != uint64(cfg.Capacity) {
					return r, errors.Newf("arena refused allocation with %d of %d slots live", n, cfg.Capacity)
				}
				r.Rejected++
				continue
			}
			i, ok := a.Index(p)
			if !ok {
				return r, errors.Newf("arena returned foreign pointer %p", p)
			}
			if !live.CheckedAdd(uint32(i)) {
				return r, errors.Newf("arena handed out live slot %d twice", i)
			}
			if p.id != 0 {
				return r, errors.Newf("slot %d not zeroed on reuse", i)
			}
			nextID++
			p.id = nextID
			slots[i] = p
			r.Allocs++
		} else {
			i, err := live.Select(uint32(rng.IntN(int(live.GetCardinality()))))
			if err != nil {
				return r, errors.Wrap(err, "selecting live slot")
			}
			p := slots[i]
			a.Deallocate(p)
			live.Remove(i)
			slots[i] = nil
			r.Frees++

			// A second free must be ignored.
			a.Deallocate(p)
			if a.Len() != int(live.GetCardinality()) {
				return r, errors.Newf("double free of slot %d changed live count to %d", i, a.Len())
			}
		}

		if op%verifyEvery == 0 {
			if err := verifyArena(a, live, slots); err != nil {
				return r, errors.Wrapf(err, "after op %d", op)
			}
			r.Verified++
		}
	}

	if err := verifyArena(a, live, slots); err != nil {
		return r, err
	}
	r.Verified++
	return r, nil
}

func verifyArena(a *memkit.Arena[record], live *roaring.Bitmap, slots []*record) error {
	if a.Len() != int(live.GetCardinality()) {
		return errors.Newf("arena reports %d live slots, model has %d", a.Len(), live.GetCardinality())
	}
	seen := roaring.New()
	last := -1
	for p := range a.All() {
		i, _ := a.Index(p)
		if i <= last {
			return errors.Newf("iteration not ascending: %d after %d", i, last)
		}
		last = i
		if slots[i] != p || p.id == 0 {
			return errors.Newf("iteration yielded slot %d which is not live", i)
		}
		seen.Add(uint32(i))
	}
	if !seen.Equals(live) {
		return errors.Newf("iteration yielded %d slots, model has %d", seen.GetCardinality(), live.GetCardinality())
	}
	return nil
}
