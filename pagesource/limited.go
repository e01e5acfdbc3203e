package pagesource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/binalloc/memutils/region"
)

// Limited wraps another PageSource and refuses acquisitions once the bytes it has outstanding would
// exceed a fixed budget
type Limited struct {
	Stats

	source PageSource
	budget int
}

var _ PageSource = &Limited{}

func NewLimited(source PageSource, budget int) (*Limited, error) {
	if source == nil {
		return nil, errors.New("pagesource.NewLimited requires a source to wrap")
	}
	if budget < 0 {
		return nil, errors.Newf("budget cannot be negative, but it was %d", budget)
	}

	return &Limited{
		source: source,
		budget: budget,
	}, nil
}

// Budget returns the most bytes this source will have outstanding at once
func (s *Limited) Budget() int {
	return s.budget
}

func (s *Limited) Acquire(size int) (region.Region, error) {
	if !s.addRegionWithBudget(size, s.budget) {
		return region.Region{}, errors.Wrapf(ErrExhausted, "acquiring %d bytes with %d of %d bytes outstanding", size, s.RegionBytes(), s.budget)
	}

	r, err := s.source.Acquire(size)
	if err != nil {
		s.removeRegionRollback(size)
		return region.Region{}, err
	}

	return r, nil
}

func (s *Limited) Release(r region.Region) error {
	err := s.source.Release(r)
	if err != nil {
		return err
	}

	s.removeRegion(r.Len())
	return nil
}
