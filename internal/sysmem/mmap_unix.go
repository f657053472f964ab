//go:build linux || darwin

package sysmem

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// stubbed in tests
var (
	mmap   = unix.Mmap
	munmap = unix.Munmap
)

type mmapAllocator struct{}

// NewMmap returns an allocator that maps anonymous private memory for every
// block. Blocks are page aligned and invisible to the garbage collector, so
// they must not hold Go pointers.
func NewMmap() Allocator {
	return mmapAllocator{}
}

func (mmapAllocator) Alloc(size uintptr) ([]byte, error) {
	if size == 0 {
		return nil, errors.New("sysmem: zero-sized block")
	}
	block, err := mmap(
		-1, 0,
		int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "sysmem: mmap %d bytes", size)
	}
	return block, nil
}

func (mmapAllocator) Free(block []byte) error {
	if err := munmap(block); err != nil {
		return errors.Wrapf(err, "sysmem: munmap %d bytes", len(block))
	}
	return nil
}
