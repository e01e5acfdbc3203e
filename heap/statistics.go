package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/binalloc/memutils"
	"golang.org/x/exp/slog"
)

// Finalize logs the number of free blocks in each size class and returns the counts, indexed by
// class. It does not change the heap.
func (h *Heap) Finalize() []int {
	counts := h.metadata.FreeCounts()
	for bin, count := range counts {
		h.logger.Info("free list size", slog.Int("Bin", bin), slog.Int("Count", count))
	}

	return counts
}

// Statistics returns region and allocation totals. It is cheap.
func (h *Heap) Statistics() memutils.Statistics {
	var stats memutils.Statistics
	h.metadata.AddStatistics(&stats)
	return stats
}

// DetailedStatistics walks every region and returns totals along with the sizes of the smallest and
// largest allocations and free ranges
func (h *Heap) DetailedStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	h.metadata.AddDetailedStatistics(&stats)
	return stats
}

// PrintDetailedMap writes a json object describing the heap's totals and every free list
func (h *Heap) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("PageUnit").Int(h.pageUnit)
	objState.Name("Strategy").String(h.strategy.String())
	objState.Name("FreeBlocks").Int(h.metadata.FreeRegionsCount())

	h.metadata.PrintDetailedMap(&objState)
}
