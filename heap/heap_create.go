package heap

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/bins"
	"github.com/vkngwrapper/binalloc/memutils/metadata"
	"github.com/vkngwrapper/binalloc/memutils/region"
	"github.com/vkngwrapper/binalloc/pagesource"
	"golang.org/x/exp/slog"
)

const (
	// DefaultPageUnit is the region size requested from the page source when none is provided via
	// Options
	DefaultPageUnit int = 4096
	// DefaultMinRequestSize is the smallest request accepted by Allocate when none is provided via
	// Options
	DefaultMinRequestSize int = 8
	// DefaultMaxRequestSize is the largest request accepted by Allocate when none is provided via
	// Options. It is lowered to fit smaller page units.
	DefaultMaxRequestSize int = 4000
	// DefaultAlignment is the request granularity when none is provided via Options
	DefaultAlignment uint = 8
)

// Options contains optional settings when creating a Heap. It is valid to leave all the fields blank.
type Options struct {
	// PageSource supplies regions when the free lists run dry. When nil, a pagesource.Go with a page
	// size of PageUnit is used.
	PageSource pagesource.PageSource
	// PageUnit is the size of every region acquired from PageSource. It must be a power of two.
	PageUnit int
	// BinThresholds are the size class boundaries. When empty, bins.DefaultThresholds are used.
	BinThresholds []int

	// MinRequestSize is the smallest size Allocate accepts
	MinRequestSize int
	// MaxRequestSize is the largest size Allocate accepts. It can be no larger than
	// PageUnit - region.HeaderSize, so that a fresh region can always satisfy a request.
	MaxRequestSize int
	// Alignment is the granularity of request sizes and the guaranteed alignment of payloads. It must
	// be a power of two no larger than region.HeaderSize.
	Alignment uint

	// Strategy chooses how a free block is picked within a size class. When zero,
	// metadata.AllocationStrategyMinMemory is used.
	Strategy metadata.AllocationStrategy
}

// New creates and initializes a Heap
//
// logger - Receives Debug records for every operation and Info records from Finalize. May be nil.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options Options) (*Heap, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	heap := &Heap{
		logger:         logger,
		pageUnit:       options.PageUnit,
		minRequestSize: options.MinRequestSize,
		maxRequestSize: options.MaxRequestSize,
		alignment:      options.Alignment,
		strategy:       options.Strategy,
		pageSource:     options.PageSource,
	}

	if heap.pageUnit == 0 {
		heap.pageUnit = DefaultPageUnit
	}
	if heap.alignment == 0 {
		heap.alignment = DefaultAlignment
	}
	if heap.minRequestSize == 0 {
		heap.minRequestSize = memutils.AlignUp(DefaultMinRequestSize, heap.alignment)
	}
	if heap.maxRequestSize == 0 {
		heap.maxRequestSize = DefaultMaxRequestSize
		if fit := memutils.AlignDown(heap.pageUnit-region.HeaderSize, heap.alignment); fit < heap.maxRequestSize {
			heap.maxRequestSize = fit
		}
	}
	if heap.strategy == 0 {
		heap.strategy = metadata.AllocationStrategyMinMemory
	}

	thresholds := options.BinThresholds
	if len(thresholds) == 0 {
		thresholds = bins.DefaultThresholds
	}

	err := heap.validateOptions()
	if err != nil {
		return nil, err
	}

	binTable, err := bins.NewTable(thresholds...)
	if err != nil {
		return nil, errors.Wrap(err, "heap.Options.BinThresholds is invalid")
	}

	regions, err := region.NewTable(heap.pageUnit)
	if err != nil {
		return nil, errors.Wrap(err, "heap.Options.PageUnit is invalid")
	}

	if heap.pageSource == nil {
		heap.pageSource, err = pagesource.NewGo(heap.pageUnit)
		if err != nil {
			return nil, err
		}
	}

	heap.metadata = metadata.NewBinnedMetadata(regions, binTable)
	heap.Initialize()

	return heap, nil
}

func (h *Heap) validateOptions() error {
	err := memutils.CheckPow2(h.pageUnit, "heap.Options.PageUnit")
	if err != nil {
		return err
	}

	err = memutils.CheckPow2(h.alignment, "heap.Options.Alignment")
	if err != nil {
		return err
	}
	if h.alignment > region.HeaderSize {
		return errors.Newf("heap.Options.Alignment is %d, but payloads can only be aligned up to the header size of %d", h.alignment, region.HeaderSize)
	}

	if h.minRequestSize < 1 {
		return errors.Newf("heap.Options.MinRequestSize must be positive, but it was %d", h.minRequestSize)
	}
	err = memutils.CheckAligned(h.minRequestSize, h.alignment, "heap.Options.MinRequestSize")
	if err != nil {
		return err
	}

	err = memutils.CheckAligned(h.maxRequestSize, h.alignment, "heap.Options.MaxRequestSize")
	if err != nil {
		return err
	}
	if h.maxRequestSize < h.minRequestSize {
		return errors.Newf("heap.Options.MaxRequestSize is %d, which is smaller than MinRequestSize %d", h.maxRequestSize, h.minRequestSize)
	}
	if h.maxRequestSize > h.pageUnit-region.HeaderSize {
		return errors.Newf("heap.Options.MaxRequestSize is %d, but a region of %d bytes only holds %d payload bytes",
			h.maxRequestSize, h.pageUnit, h.pageUnit-region.HeaderSize)
	}

	if h.strategy != metadata.AllocationStrategyMinMemory && h.strategy != metadata.AllocationStrategyMinTime {
		return errors.Newf("heap.Options.Strategy has unknown value %d", int(h.strategy))
	}

	return nil
}
