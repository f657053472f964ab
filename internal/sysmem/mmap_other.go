//go:build !linux && !darwin

package sysmem

// NewMmap falls back to the Go heap on platforms without anonymous mmap
// support in this package.
func NewMmap() Allocator {
	return NewGo()
}
