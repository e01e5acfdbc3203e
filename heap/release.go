package heap

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/region"
	"golang.org/x/exp/slog"
)

// Release returns a block obtained from Allocate to the free lists. ErrInvalidReference is returned
// when ref does not lead to a block header inside a region owned by the heap.
//
// Releasing the same reference twice, or a reference that points into the middle of a payload, is
// not detected in general and corrupts the heap. A second release of a block that is still linked
// into a free list panics.
func (h *Heap) Release(ref region.Addr) error {
	h.logger.Debug("Heap::Release", slog.String("Ref", fmt.Sprintf("%#x", uint64(ref))))

	block, err := h.resolve(ref)
	if err != nil {
		return err
	}

	err = h.metadata.Free(block)
	if err != nil {
		return errors.Mark(err, ErrInvalidReference)
	}

	memutils.DebugValidate(h.metadata)
	return nil
}

func (h *Heap) resolve(ref region.Addr) (region.Addr, error) {
	if ref < region.HeaderSize || !memutils.IsAligned(uint64(ref), h.alignment) {
		return region.Null, errors.Wrapf(ErrInvalidReference, "reference %#x", uint64(ref))
	}

	block := region.BlockOf(ref)
	if !h.metadata.Regions().Contains(block, region.HeaderSize) {
		return region.Null, errors.Wrapf(ErrInvalidReference, "reference %#x", uint64(ref))
	}

	return block, nil
}
