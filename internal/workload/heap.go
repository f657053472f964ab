package workload

import (
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/pavanmanishd/memkit/heap"
	"github.com/pavanmanishd/memkit/internal/config"
	"github.com/pavanmanishd/memkit/internal/sysmem"
)

type allocation struct {
	buf  []byte
	fill byte
}

// RunHeap allocates byte ranges of random size and alignment, fills each
// with its own byte pattern and checks the pattern is intact when the range
// is freed. Overlapping allocations would clobber each other's patterns.
func RunHeap(cfg config.HeapConfig, seed int64, logger *zap.Logger) (Report, error) {
	rng := newRand(seed)
	r := Report{Name: "heap"}

	sys, err := sysmem.New(cfg.Backing)
	if err != nil {
		return r, err
	}
	h := heap.New(
		heap.WithAllocator(sys),
		heap.WithMinChunkSize(cfg.MinChunkSize),
		heap.WithLogger(logger),
	)
	defer h.Release()

	maxShift := bits.Len(uint(cfg.MaxAlign)) - 1
	var live []allocation
	largest := 0

	free := func(i int) error {
		a := live[i]
		for j, b := range a.buf {
			if b != a.fill {
				return errors.Newf("allocation %p byte %d is %#x, want %#x", unsafe.SliceData(a.buf), j, b, a.fill)
			}
		}
		h.Deallocate(unsafe.Pointer(unsafe.SliceData(a.buf)))
		live[i] = live[len(live)-1]
		live = live[:len(live)-1]
		r.Frees++
		return nil
	}

	for op := 0; op < cfg.Ops; op++ {
		if len(live) == 0 || rng.IntN(2) == 0 {
			size := 1 + rng.IntN(cfg.MaxAlloc)
			align := uintptr(1) << rng.IntN(maxShift+1)
			origins := h.Stats().Origins
			buf, err := h.AllocateBytes(size, align)
			if err != nil {
				return r, errors.Wrapf(err, "allocating %d bytes at %d", size, align)
			}
			if addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf))); addr%align != 0 {
				return r, errors.Newf("allocation %#x not aligned to %d", addr, align)
			}
			if h.Stats().Origins > origins {
				r.Growths++
			}
			fill := byte(op)
			for j := range buf {
				buf[j] = fill
			}
			live = append(live, allocation{buf: buf, fill: fill})
			largest = max(largest, size)
			r.Allocs++
		} else if err := free(rng.IntN(len(live))); err != nil {
			return r, err
		}

		if op%verifyEvery == 0 {
			if err := verifyHeap(h); err != nil {
				return r, errors.Wrapf(err, "after op %d", op)
			}
			r.Verified++
		}
	}

	for len(live) > 0 {
		if err := free(len(live) - 1); err != nil {
			return r, err
		}
	}
	if s := h.Stats(); s.InUse != 0 {
		return r, errors.Newf("heap reports %d bytes in use after freeing everything", s.InUse)
	}

	if largest == 0 {
		return r, nil
	}

	// Once everything is freed each block is a single free chunk again, so
	// the largest size seen must fit without another block.
	origins := h.Stats().Origins
	p, err := h.Allocate(uintptr(largest), 1)
	if err != nil {
		return r, err
	}
	h.Deallocate(p)
	if got := h.Stats().Origins; got != origins {
		return r, errors.Newf("reallocation grew the heap from %d to %d blocks", origins, got)
	}
	r.Verified++
	return r, nil
}

func verifyHeap(h *heap.Heap) error {
	s := h.Stats()
	if s.InUse+s.Free != s.Capacity {
		return errors.Newf("heap accounting off: %d in use + %d free != %d capacity", s.InUse, s.Free, s.Capacity)
	}
	return nil
}
