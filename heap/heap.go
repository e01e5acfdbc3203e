// Package heap is a user-space allocator that carves small blocks out of page-sized regions. Free
// blocks are kept in one list per size class, and a request is served by a best-fit search that
// escalates through the classes before acquiring a new region from the heap's page source.
package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/binalloc/memutils/bins"
	"github.com/vkngwrapper/binalloc/memutils/metadata"
	"github.com/vkngwrapper/binalloc/memutils/region"
	"github.com/vkngwrapper/binalloc/pagesource"
	"golang.org/x/exp/slog"
)

// Heap is a binned free-list allocator. It is not safe for concurrent or reentrant use: the consumer
// must guarantee that it is used from only one goroutine at a time. Memory acquired from the page
// source is never returned to it.
type Heap struct {
	logger     *slog.Logger
	pageSource pagesource.PageSource
	metadata   *metadata.BinnedMetadata

	pageUnit       int
	minRequestSize int
	maxRequestSize int
	alignment      uint
	strategy       metadata.AllocationStrategy
}

// Initialize empties every size class and forgets every region the heap has acquired. Outstanding
// references become invalid. New calls Initialize, so it only needs to be called to start over.
func (h *Heap) Initialize() {
	h.logger.Debug("Heap::Initialize")

	h.metadata.Init()
}

// PageUnit returns the size of the regions the heap acquires from its page source
func (h *Heap) PageUnit() int { return h.pageUnit }

// MinRequestSize returns the smallest size Allocate accepts
func (h *Heap) MinRequestSize() int { return h.minRequestSize }

// MaxRequestSize returns the largest size Allocate accepts
func (h *Heap) MaxRequestSize() int { return h.maxRequestSize }

// Alignment returns the granularity of request sizes, which is also the alignment of every payload
func (h *Heap) Alignment() uint { return h.alignment }

// Strategy returns the strategy used to pick a free block within a size class
func (h *Heap) Strategy() metadata.AllocationStrategy { return h.strategy }

// Bins returns the size class table
func (h *Heap) Bins() *bins.Table { return h.metadata.Bins() }

// Payload returns a view of the first size bytes of a live allocation. Writes through the view are
// visible to later calls.
func (h *Heap) Payload(ref region.Addr, size int) ([]byte, error) {
	block, err := h.resolve(ref)
	if err != nil {
		return nil, err
	}

	blockSize := h.metadata.Regions().Size(block)
	if size < 0 || size > blockSize {
		return nil, errors.Wrapf(ErrInvalidSize, "cannot view %d bytes of a %d byte block", size, blockSize)
	}

	return h.metadata.Regions().Bytes(ref, size)
}

// FreeBlocks returns every block in one size class's free list, in list order. It returns nil for a
// class that does not exist.
func (h *Heap) FreeBlocks(class int) []metadata.Block {
	var blocks []metadata.Block
	err := h.metadata.VisitFreeBlocks(class, func(block metadata.Block) error {
		blocks = append(blocks, block)
		return nil
	})
	if err != nil {
		return nil
	}

	return blocks
}

// Validate performs expensive consistency checks on every free list and region
func (h *Heap) Validate() error {
	return h.metadata.Validate()
}
