package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/bins"
	"github.com/vkngwrapper/binalloc/memutils/region"
)

// BlockMetadata manages the free blocks carved out of a set of regions. It allows allocations to be
// requested and freed, as well as enumerated and queried. It does not obtain memory by itself: when
// CreateAllocationRequest fails, the consumer is expected to acquire a new region and pass it to
// AddRegion.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used, and may be called again to forget every
	// region and free block. It resets every size class to an empty list.
	Init()
	// Regions returns the table of regions that this metadata carves blocks from
	Regions() *region.Table
	// Bins returns the size class table used to choose free lists
	Bins() *bins.Table

	// Validate performs internal consistency checks on the metadata. These checks are expensive.
	// When the implementation is functioning correctly, it should not be possible for this method to
	// return an error, but this may assist in diagnosing issues with the implementation or its callers.
	Validate() error
	// AllocationCount returns the number of blocks currently handed out
	AllocationCount() int
	// FreeRegionsCount returns the number of blocks currently linked into free lists
	FreeRegionsCount() int
	// FreeCounts returns the number of free blocks in each size class, indexed by class
	FreeCounts() []int
	// VisitFreeBlocks calls the provided callback for every block in one size class's free list, in
	// list order. The sentinel is not visited.
	VisitFreeBlocks(bin int, visit func(block Block) error) error
	// VisitAllBlocks calls the provided callback for every block in every region, in address order
	// within each region and in acquisition order across regions.
	VisitAllBlocks(visit func(region *region.Region, block Block) error) error

	// AddRegion takes ownership of a fresh region, formats it as a single free block and links that
	// block into the free list of its size class.
	AddRegion(r region.Region) (Block, error)

	// CreateAllocationRequest retrieves an AllocationRequest object indicating which free block the
	// implementation would hand out for an allocation of allocSize bytes. The bool return is false if
	// no free block is large enough. That object can be passed to Alloc to commit the allocation.
	CreateAllocationRequest(allocSize int, strategy AllocationStrategy) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object and returns the payload address of the allocation.
	// The implementation must return an error if the request no longer describes the free lists.
	Alloc(request AllocationRequest) (region.Addr, error)
	// Free returns the block whose header is at block to the free lists.
	Free(block region.Addr) error

	// AddStatistics sums this metadata's allocation statistics into the provided memutils.Statistics
	AddStatistics(stats *memutils.Statistics)
	// AddDetailedStatistics sums this metadata's allocation statistics into the provided
	// memutils.DetailedStatistics. This walks every region and is much slower than AddStatistics.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// PrintDetailedMap populates a json object with the contents of every free list
	PrintDetailedMap(json *jwriter.ObjectState)
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	regions *region.Table
	bins    *bins.Table
}

// NewBlockMetadata creates a new BlockMetadataBase from a region table and a size class table
func NewBlockMetadata(regions *region.Table, binTable *bins.Table) BlockMetadataBase {
	return BlockMetadataBase{
		regions: regions,
		bins:    binTable,
	}
}

// Regions returns the table of regions that this metadata carves blocks from
func (m *BlockMetadataBase) Regions() *region.Table { return m.regions }

// Bins returns the size class table used to choose free lists
func (m *BlockMetadataBase) Bins() *bins.Table { return m.bins }

// PrintDetailedMapHeader populates a json object with the totals for this metadata
func (m *BlockMetadataBase) PrintDetailedMapHeader(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.regions.TotalBytes())
	json.Name("Regions").Int(m.regions.Len())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
