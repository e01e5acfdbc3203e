//go:build unix

package pagesource

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/region"
	"golang.org/x/sys/unix"
)

// Mmap is a PageSource backed by anonymous private mappings. Region addresses are the real addresses
// of the mapped memory.
type Mmap struct {
	Stats

	pageSize int

	lock     sync.Mutex
	mappings *swiss.Map[region.Addr, []byte]
}

var _ PageSource = &Mmap{}

// NewMmap creates an Mmap page source that hands out regions in multiples of pageSize, which must be
// a power of two
func NewMmap(pageSize int) (*Mmap, error) {
	err := memutils.CheckPow2(pageSize, "pageSize")
	if err != nil {
		return nil, err
	}

	return &Mmap{
		pageSize: pageSize,
		mappings: swiss.NewMap[region.Addr, []byte](8),
	}, nil
}

// PageSize returns the granularity of the regions this source hands out
func (s *Mmap) PageSize() int {
	return s.pageSize
}

func (s *Mmap) Acquire(size int) (region.Region, error) {
	if size <= 0 {
		return region.Region{}, errors.Newf("cannot acquire a region of %d bytes", size)
	}
	err := memutils.CheckAligned(size, uint(s.pageSize), "size")
	if err != nil {
		return region.Region{}, err
	}

	alignment := memutils.RoundUpPow2(size)
	mapSize := size
	if alignment > unix.Getpagesize() {
		// The kernel only promises OS page alignment, so map enough slack to slide the region
		// forward to its own alignment
		mapSize += alignment
	}

	mapping, err := unix.Mmap(-1, 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return region.Region{}, errors.Wrapf(err, "failed to map %d bytes", mapSize)
	}

	start := uintptr(unsafe.Pointer(&mapping[0]))
	offset := memutils.AlignUp(int(start), uint(alignment)) - int(start)
	base := region.Addr(start) + region.Addr(offset)

	s.lock.Lock()
	defer s.lock.Unlock()

	s.mappings.Put(base, mapping)
	s.addRegion(size)

	return region.Region{
		Base: base,
		Data: mapping[offset : offset+size : offset+size],
	}, nil
}

func (s *Mmap) Release(r region.Region) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	mapping, ok := s.mappings.Get(r.Base)
	if !ok {
		return errors.Wrapf(ErrUnknownRegion, "region at %#x with %d bytes", uint64(r.Base), r.Len())
	}

	err := unix.Munmap(mapping)
	if err != nil {
		return errors.Wrapf(err, "failed to unmap region at %#x", uint64(r.Base))
	}

	s.mappings.Delete(r.Base)
	s.removeRegion(r.Len())
	return nil
}
