package pagesource

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/region"
)

// Go is a PageSource backed by ordinary Go byte slices. Its regions live in a synthetic address space
// that starts one page above zero and grows upward, so that addresses are deterministic and never
// collide with region.Null.
type Go struct {
	Stats

	pageSize int

	lock     sync.Mutex
	nextBase region.Addr
	live     *swiss.Map[region.Addr, int]
}

var _ PageSource = &Go{}

// NewGo creates a Go page source that hands out regions in multiples of pageSize, which must be a
// power of two
func NewGo(pageSize int) (*Go, error) {
	err := memutils.CheckPow2(pageSize, "pageSize")
	if err != nil {
		return nil, err
	}

	return &Go{
		pageSize: pageSize,
		nextBase: region.Addr(pageSize),
		live:     swiss.NewMap[region.Addr, int](8),
	}, nil
}

// PageSize returns the granularity of the regions this source hands out
func (s *Go) PageSize() int {
	return s.pageSize
}

func (s *Go) Acquire(size int) (region.Region, error) {
	if size <= 0 {
		return region.Region{}, errors.Newf("cannot acquire a region of %d bytes", size)
	}
	err := memutils.CheckAligned(size, uint(s.pageSize), "size")
	if err != nil {
		return region.Region{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	// Keep every base aligned to its own size
	base := region.Addr(memutils.AlignUp(int(s.nextBase), uint(memutils.RoundUpPow2(size))))
	s.nextBase = base + region.Addr(size)
	s.live.Put(base, size)
	s.addRegion(size)

	return region.Region{
		Base: base,
		Data: make([]byte, size),
	}, nil
}

func (s *Go) Release(r region.Region) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	size, ok := s.live.Get(r.Base)
	if !ok || size != r.Len() {
		return errors.Wrapf(ErrUnknownRegion, "region at %#x with %d bytes", uint64(r.Base), r.Len())
	}

	s.live.Delete(r.Base)
	s.removeRegion(size)
	return nil
}
