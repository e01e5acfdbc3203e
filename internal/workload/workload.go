// Package workload drives an allocator with a reproducible random trace of allocations and releases,
// checking that every payload still holds what was written to it.
package workload

import (
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/region"
)

// ErrCorruption is returned when a payload no longer holds the bytes written into it, which means two
// live allocations overlapped or a header was written over
var ErrCorruption = errors.New("payload was corrupted")

// Allocator is the part of heap.Heap that a workload exercises
type Allocator interface {
	Allocate(size int) (region.Addr, error)
	Release(ref region.Addr) error
	Payload(ref region.Addr, size int) ([]byte, error)
	Statistics() memutils.Statistics
}

// Config describes a trace
type Config struct {
	// Ops is the number of allocate or release operations to perform before the final cleanup
	Ops int
	// Seed makes the trace reproducible
	Seed int64
	// MinSize and MaxSize bound the size of each allocation, inclusive
	MinSize int
	MaxSize int
	// MaxLive is the most allocations that will be live at once
	MaxLive int
	// Alignment is the granularity of allocation sizes
	Alignment int
}

// Result summarizes a completed trace
type Result struct {
	Allocations   int
	Releases      int
	PeakLiveBytes int
	RegionBytes   int
	// Utilization is PeakLiveBytes divided by RegionBytes
	Utilization float64
}

type object struct {
	ref  region.Addr
	size int
	tag  byte
}

func (c Config) validate() error {
	if c.Ops < 0 {
		return errors.Newf("workload.Config.Ops cannot be negative, but it was %d", c.Ops)
	}
	if c.Alignment < 1 {
		return errors.Newf("workload.Config.Alignment must be positive, but it was %d", c.Alignment)
	}
	if c.MinSize < 1 || c.MaxSize < c.MinSize {
		return errors.Newf("workload.Config size range [%d, %d] is empty", c.MinSize, c.MaxSize)
	}
	if c.MinSize%c.Alignment != 0 || c.MaxSize%c.Alignment != 0 {
		return errors.Newf("workload.Config size range [%d, %d] is not aligned to %d", c.MinSize, c.MaxSize, c.Alignment)
	}
	if c.MaxLive < 1 {
		return errors.Newf("workload.Config.MaxLive must be positive, but it was %d", c.MaxLive)
	}
	return nil
}

// Run performs the trace described by cfg against h. Every live allocation is released before Run
// returns successfully.
func Run(h Allocator, cfg Config) (Result, error) {
	var result Result

	err := cfg.validate()
	if err != nil {
		return result, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	steps := (cfg.MaxSize-cfg.MinSize)/cfg.Alignment + 1

	var live []object
	liveBytes := 0
	var nextTag byte

	for op := 0; op < cfg.Ops; op++ {
		allocate := len(live) == 0 || (len(live) < cfg.MaxLive && rng.Intn(2) == 0)

		if allocate {
			size := cfg.MinSize + rng.Intn(steps)*cfg.Alignment
			ref, err := h.Allocate(size)
			if err != nil {
				return result, errors.Wrapf(err, "operation %d: allocating %d bytes", op, size)
			}

			nextTag++
			obj := object{ref: ref, size: size, tag: nextTag}
			err = fill(h, obj)
			if err != nil {
				return result, err
			}

			live = append(live, obj)
			liveBytes += size
			result.Allocations++
			if liveBytes > result.PeakLiveBytes {
				result.PeakLiveBytes = liveBytes
			}
			continue
		}

		index := rng.Intn(len(live))
		obj := live[index]
		err := release(h, obj)
		if err != nil {
			return result, errors.Wrapf(err, "operation %d", op)
		}

		live[index] = live[len(live)-1]
		live = live[:len(live)-1]
		liveBytes -= obj.size
		result.Releases++
	}

	for _, obj := range live {
		err := release(h, obj)
		if err != nil {
			return result, errors.Wrap(err, "cleanup")
		}
		result.Releases++
	}

	stats := h.Statistics()
	result.RegionBytes = stats.RegionBytes
	if result.RegionBytes > 0 {
		result.Utilization = float64(result.PeakLiveBytes) / float64(result.RegionBytes)
	}

	return result, nil
}

func fill(h Allocator, obj object) error {
	payload, err := h.Payload(obj.ref, obj.size)
	if err != nil {
		return err
	}

	for i := range payload {
		payload[i] = obj.tag + byte(i)
	}
	return nil
}

func release(h Allocator, obj object) error {
	payload, err := h.Payload(obj.ref, obj.size)
	if err != nil {
		return err
	}

	for i, b := range payload {
		if b != obj.tag+byte(i) {
			return errors.Wrapf(ErrCorruption, "allocation at %#x with size %d has byte %#x at offset %d, expected %#x",
				uint64(obj.ref), obj.size, b, i, obj.tag+byte(i))
		}
	}

	return h.Release(obj.ref)
}
