// Package pagesource supplies the coarse, page-aligned regions that a heap carves its blocks out of.
// A heap only ever acquires from its page source; Release exists for callers that own a source
// directly.
package pagesource

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/binalloc/memutils/region"
)

// ErrExhausted is returned by Limited when an acquisition would exceed its byte budget
var ErrExhausted = errors.New("page source budget is exhausted")

// ErrNotSupported is returned when a page source cannot be used on the current platform
var ErrNotSupported = errors.New("page source is not supported on this platform")

// ErrUnknownRegion is returned by Release when the region was not handed out by the source
var ErrUnknownRegion = errors.New("region was not acquired from this page source")

// PageSource hands out raw memory regions
type PageSource interface {
	// Acquire returns a zero-initialized region of exactly size bytes whose base is aligned to size.
	// size must be a positive multiple of the source's page size.
	Acquire(size int) (region.Region, error)
	// Release returns a region previously returned by Acquire
	Release(r region.Region) error
}

// Stats counts the regions a page source currently has outstanding. It is safe for concurrent use.
type Stats struct {
	// Number of regions acquired and not yet released
	regionCount int32
	// Size of regions acquired and not yet released
	regionBytes int64
	// Number of regions acquired over the source's lifetime
	acquireCount int32
	// Number of regions released over the source's lifetime
	releaseCount int32
}

func (s *Stats) RegionCount() int {
	return int(atomic.LoadInt32(&s.regionCount))
}

func (s *Stats) RegionBytes() int {
	return int(atomic.LoadInt64(&s.regionBytes))
}

func (s *Stats) AcquireCount() int {
	return int(atomic.LoadInt32(&s.acquireCount))
}

func (s *Stats) ReleaseCount() int {
	return int(atomic.LoadInt32(&s.releaseCount))
}

func (s *Stats) addRegion(size int) {
	atomic.AddInt64(&s.regionBytes, int64(size))
	atomic.AddInt32(&s.regionCount, 1)
	atomic.AddInt32(&s.acquireCount, 1)
}

func (s *Stats) addRegionWithBudget(size, budget int) bool {
	for {
		currentVal := atomic.LoadInt64(&s.regionBytes)
		targetVal := currentVal + int64(size)

		if targetVal > int64(budget) {
			return false
		}

		if atomic.CompareAndSwapInt64(&s.regionBytes, currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&s.regionCount, 1)
	atomic.AddInt32(&s.acquireCount, 1)
	return true
}

func (s *Stats) removeRegion(size int) {
	newVal := atomic.AddInt64(&s.regionBytes, int64(-size))
	if newVal < 0 {
		panic(fmt.Sprintf("region bytes went negative after releasing %d bytes", size))
	}

	newCountVal := atomic.AddInt32(&s.regionCount, -1)
	if newCountVal < 0 {
		panic("region count went negative")
	}

	atomic.AddInt32(&s.releaseCount, 1)
}

// removeRegionRollback undoes a budgeted addRegion whose acquisition then failed
func (s *Stats) removeRegionRollback(size int) {
	atomic.AddInt64(&s.regionBytes, int64(-size))
	atomic.AddInt32(&s.regionCount, -1)
	atomic.AddInt32(&s.acquireCount, -1)
}
