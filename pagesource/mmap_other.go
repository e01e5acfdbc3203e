//go:build !unix

package pagesource

import (
	"github.com/vkngwrapper/binalloc/memutils/region"
)

// Mmap is unavailable on this platform. NewMmap always fails with ErrNotSupported.
type Mmap struct {
	Stats
}

var _ PageSource = &Mmap{}

func NewMmap(pageSize int) (*Mmap, error) {
	return nil, ErrNotSupported
}

func (s *Mmap) PageSize() int {
	return 0
}

func (s *Mmap) Acquire(size int) (region.Region, error) {
	return region.Region{}, ErrNotSupported
}

func (s *Mmap) Release(r region.Region) error {
	return ErrNotSupported
}
