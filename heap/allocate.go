package heap

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/region"
	"golang.org/x/exp/slog"
)

// Allocate returns the payload address of a new block of at least size bytes. size must be a
// multiple of the heap's alignment within [MinRequestSize, MaxRequestSize]; ErrInvalidSize is
// returned otherwise. When no free block is large enough, exactly one region is acquired from the
// page source before the search is repeated. Page source failures are marked with ErrPageSource.
func (h *Heap) Allocate(size int) (region.Addr, error) {
	h.logger.Debug("Heap::Allocate", slog.Int("Size", size))

	err := h.checkRequestSize(size)
	if err != nil {
		return region.Null, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		success, allocRequest, err := h.metadata.CreateAllocationRequest(size, h.strategy)
		if err != nil {
			return region.Null, err
		}

		if success {
			payload, err := h.metadata.Alloc(allocRequest)
			if err != nil {
				panic(fmt.Sprintf("failed to commit a fresh allocation request: %+v", err))
			}
			memutils.DebugCheckAligned(uint64(payload), h.alignment, "payload")
			return payload, nil
		}

		if attempt == 0 {
			err = h.acquireRegion()
			if err != nil {
				return region.Null, err
			}
		}
	}

	panic(fmt.Sprintf("a fresh region of %d bytes could not satisfy a request of %d bytes", h.pageUnit, size))
}

func (h *Heap) checkRequestSize(size int) error {
	if size < h.minRequestSize || size > h.maxRequestSize {
		return errors.Wrapf(ErrInvalidSize, "size %d is outside of [%d, %d]", size, h.minRequestSize, h.maxRequestSize)
	}

	err := memutils.CheckAligned(size, h.alignment, "size")
	if err != nil {
		return errors.Mark(err, ErrInvalidSize)
	}

	return nil
}

func (h *Heap) acquireRegion() error {
	r, err := h.pageSource.Acquire(h.pageUnit)
	if err != nil {
		h.logger.Debug("    Heap::acquireRegion FAILED", slog.Int("Size", h.pageUnit))
		return errors.Mark(errors.Wrapf(err, "failed to acquire a region of %d bytes", h.pageUnit), ErrPageSource)
	}

	block, err := h.metadata.AddRegion(r)
	if err != nil {
		releaseErr := h.pageSource.Release(r)
		if releaseErr != nil {
			h.logger.Error("error attempting to release an unusable region", slog.Any("error", releaseErr))
		}
		return errors.Mark(errors.Wrapf(err, "page source returned an unusable region"), ErrPageSource)
	}

	h.logger.Debug("    Acquired region",
		slog.Int("Size", r.Len()),
		slog.String("Base", fmt.Sprintf("%#x", uint64(r.Base))),
		slog.Int("Bin", h.metadata.Bins().Index(block.Size)),
	)
	return nil
}
