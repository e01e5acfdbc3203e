package pagesource_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/region"
	"github.com/vkngwrapper/binalloc/pagesource"
)

func TestGoRejectsBadPageSize(t *testing.T) {
	_, err := pagesource.NewGo(3000)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))

	_, err = pagesource.NewGo(0)
	require.Error(t, err)
}

func TestGoAcquire(t *testing.T) {
	source, err := pagesource.NewGo(4096)
	require.NoError(t, err)

	first, err := source.Acquire(4096)
	require.NoError(t, err)
	require.Equal(t, region.Addr(4096), first.Base)
	require.Len(t, first.Data, 4096)
	require.Equal(t, make([]byte, 4096), first.Data)

	second, err := source.Acquire(4096)
	require.NoError(t, err)
	require.Equal(t, region.Addr(8192), second.Base)

	// a larger region is aligned to its own size
	large, err := source.Acquire(16384)
	require.NoError(t, err)
	require.Equal(t, region.Addr(16384), large.Base)

	require.Equal(t, 3, source.RegionCount())
	require.Equal(t, 4096+4096+16384, source.RegionBytes())
	require.Equal(t, 3, source.AcquireCount())
}

func TestGoAcquireRejectsPartialPages(t *testing.T) {
	source, err := pagesource.NewGo(4096)
	require.NoError(t, err)

	_, err = source.Acquire(100)
	require.True(t, errors.Is(err, memutils.AlignmentError))

	_, err = source.Acquire(0)
	require.Error(t, err)
	require.Equal(t, 0, source.RegionCount())
}

func TestGoRelease(t *testing.T) {
	source, err := pagesource.NewGo(4096)
	require.NoError(t, err)

	r, err := source.Acquire(4096)
	require.NoError(t, err)

	require.NoError(t, source.Release(r))
	require.Equal(t, 0, source.RegionCount())
	require.Equal(t, 0, source.RegionBytes())
	require.Equal(t, 1, source.ReleaseCount())

	err = source.Release(r)
	require.True(t, errors.Is(err, pagesource.ErrUnknownRegion))

	err = source.Release(region.Region{Base: 0x7000, Data: make([]byte, 4096)})
	require.True(t, errors.Is(err, pagesource.ErrUnknownRegion))
}
