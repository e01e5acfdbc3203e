package metadata_test

import (
	"math"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/bins"
	"github.com/vkngwrapper/binalloc/memutils/metadata"
	"github.com/vkngwrapper/binalloc/memutils/region"
)

const pageUnit = 4096

func readyMetadata(t *testing.T, bases ...region.Addr) *metadata.BinnedMetadata {
	regions, err := region.NewTable(pageUnit)
	require.NoError(t, err)

	md := metadata.NewBinnedMetadata(regions, bins.Default())
	md.Init()

	for _, base := range bases {
		_, err := md.AddRegion(region.Region{Base: base, Data: make([]byte, pageUnit)})
		require.NoError(t, err)
	}

	return md
}

func alloc(t *testing.T, md *metadata.BinnedMetadata, size int, strategy metadata.AllocationStrategy) region.Addr {
	success, req, err := md.CreateAllocationRequest(size, strategy)
	require.NoError(t, err)
	require.True(t, success)

	payload, err := md.Alloc(req)
	require.NoError(t, err)
	return payload
}

func free(t *testing.T, md *metadata.BinnedMetadata, payload region.Addr) {
	require.NoError(t, md.Free(region.BlockOf(payload)))
}

func freeList(t *testing.T, md *metadata.BinnedMetadata, bin int) []metadata.Block {
	var blocks []metadata.Block
	err := md.VisitFreeBlocks(bin, func(block metadata.Block) error {
		blocks = append(blocks, block)
		return nil
	})
	require.NoError(t, err)
	return blocks
}

func listAddrs(t *testing.T, md *metadata.BinnedMetadata, bin int) []region.Addr {
	var addrs []region.Addr
	for _, block := range freeList(t, md, bin) {
		addrs = append(addrs, block.Addr)
	}
	return addrs
}

func TestInitEmptiesEveryList(t *testing.T) {
	md := readyMetadata(t)

	for bin := 0; bin < bins.Default().Count(); bin++ {
		require.Equal(t, metadata.SentinelAddr, md.Head(bin))
	}
	require.Equal(t, []int{0, 0, 0, 0}, md.FreeCounts())
	require.NoError(t, md.Validate())

	success, _, err := md.CreateAllocationRequest(8, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.False(t, success)
}

func TestAddRegionFormatsOneBlock(t *testing.T) {
	md := readyMetadata(t)

	block, err := md.AddRegion(region.Region{Base: 0x1000, Data: make([]byte, pageUnit)})
	require.NoError(t, err)
	require.Equal(t, region.Addr(0x1000), block.Addr)
	require.Equal(t, pageUnit-region.HeaderSize, block.Size)
	require.Equal(t, metadata.SentinelAddr, block.Next)

	require.Equal(t, []int{0, 0, 0, 1}, md.FreeCounts())
	require.Equal(t, region.Addr(0x1000), md.Head(3))
	require.NoError(t, md.Validate())

	_, err = md.AddRegion(region.Region{Base: 0x1000, Data: make([]byte, pageUnit)})
	require.Error(t, err)
}

func TestSplitPutsRemainderInScannedClass(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	payload := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	require.Equal(t, region.Addr(0x1010), payload)

	// 16 bytes maps to class 0, but the block came out of class 3 and so does the remainder
	require.Equal(t, []metadata.Block{
		{Addr: 0x1020, Size: pageUnit - 2*region.HeaderSize - 16, Next: metadata.SentinelAddr},
	}, freeList(t, md, 3))
	require.Empty(t, freeList(t, md, 0))
	require.Equal(t, 1, md.AllocationCount())
	require.NoError(t, md.Validate())
}

func TestSmallRemainderIsHandedOutWhole(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	// 4080 - 4064 leaves 16 bytes: exactly one header, which is not enough to split
	payload := alloc(t, md, 4064, metadata.AllocationStrategyMinMemory)
	require.Equal(t, region.Addr(0x1010), payload)
	require.Equal(t, pageUnit-region.HeaderSize, md.Regions().Size(region.BlockOf(payload)))
	require.Equal(t, []int{0, 0, 0, 0}, md.FreeCounts())

	var stats memutils.Statistics
	md.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		RegionCount:     1,
		RegionBytes:     pageUnit,
		AllocationCount: 1,
		AllocationBytes: pageUnit - region.HeaderSize,
	}, stats)
	require.NoError(t, md.Validate())
}

func TestReleaseRightNeighborMergesWhenItIsNextInList(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	first := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	second := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	require.Equal(t, first+region.HeaderSize+16, second)

	free(t, md, second)
	require.Equal(t, []region.Addr{region.BlockOf(second)}, listAddrs(t, md, 0))

	// first is inserted in front of second, and second begins exactly where first ends
	free(t, md, first)
	require.Equal(t, []metadata.Block{
		{Addr: region.BlockOf(first), Size: 16 + region.HeaderSize + 16, Next: metadata.SentinelAddr},
	}, freeList(t, md, 0))
	require.Equal(t, 0, md.AllocationCount())
	require.NoError(t, md.Validate())
}

func TestReleaseInAddressOrderDoesNotMerge(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	first := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	second := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)

	free(t, md, first)
	free(t, md, second)

	// second's right neighbor is the class 3 remainder, and its list successor is first
	require.Equal(t, []metadata.Block{
		{Addr: region.BlockOf(second), Size: 16, Next: region.BlockOf(first)},
		{Addr: region.BlockOf(first), Size: 16, Next: metadata.SentinelAddr},
	}, freeList(t, md, 0))
	require.NoError(t, md.Validate())
}

func TestMergeIsSingleStep(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	a := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	b := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	c := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)

	free(t, md, c)
	free(t, md, b) // b absorbs c
	require.Equal(t, []metadata.Block{
		{Addr: region.BlockOf(b), Size: 48, Next: metadata.SentinelAddr},
	}, freeList(t, md, 0))

	// a's end is b, and b is still a's list successor
	free(t, md, a)
	require.Equal(t, []metadata.Block{
		{Addr: region.BlockOf(a), Size: 80, Next: metadata.SentinelAddr},
	}, freeList(t, md, 0))
	require.NoError(t, md.Validate())
}

func TestMergedBlockStaysInOriginalClass(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	a := alloc(t, md, 40, metadata.AllocationStrategyMinMemory)
	b := alloc(t, md, 40, metadata.AllocationStrategyMinMemory)

	free(t, md, b)
	free(t, md, a)

	// 40 + 16 + 40 = 96 maps to class 1, but the merged block stays in class 0
	require.Equal(t, []metadata.Block{
		{Addr: region.BlockOf(a), Size: 96, Next: metadata.SentinelAddr},
	}, freeList(t, md, 0))
	require.Empty(t, freeList(t, md, 1))

	success, req, err := md.CreateAllocationRequest(96, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 3, req.Bin)
}

// carveMixedSizes leaves class 3 holding, in list order, blocks of 1200, 1500, 1100 and a 160 byte
// remainder
func carveMixedSizes(t *testing.T, md *metadata.BinnedMetadata) (a1, a3, a5 region.Addr) {
	a1 = alloc(t, md, 1100, metadata.AllocationStrategyMinMemory)
	alloc(t, md, 8, metadata.AllocationStrategyMinMemory)
	a3 = alloc(t, md, 1500, metadata.AllocationStrategyMinMemory)
	alloc(t, md, 8, metadata.AllocationStrategyMinMemory)
	a5 = alloc(t, md, 1200, metadata.AllocationStrategyMinMemory)
	alloc(t, md, 8, metadata.AllocationStrategyMinMemory)

	free(t, md, a1)
	free(t, md, a3)
	free(t, md, a5)

	var sizes []int
	for _, block := range freeList(t, md, 3) {
		sizes = append(sizes, block.Size)
	}
	require.Equal(t, []int{1200, 1500, 1100, 160}, sizes)
	require.NoError(t, md.Validate())

	return a1, a3, a5
}

func TestBestFitChoosesSmallestLargeEnough(t *testing.T) {
	md := readyMetadata(t, 0x1000)
	a1, a3, _ := carveMixedSizes(t, md)

	success, req, err := md.CreateAllocationRequest(1050, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, metadata.AllocationRequest{
		Block:     region.BlockOf(a1),
		Prev:      region.BlockOf(a3),
		Bin:       3,
		BlockSize: 1100,
		Size:      1050,
	}, req)

	payload, err := md.Alloc(req)
	require.NoError(t, err)
	require.Equal(t, a1, payload)

	// 50 bytes left over: a 34 byte remainder goes to the front of class 3
	head := freeList(t, md, 3)[0]
	require.Equal(t, a1+1050, head.Addr)
	require.Equal(t, 34, head.Size)
	require.NoError(t, md.Validate())
}

func TestFirstFitChoosesFirstLargeEnough(t *testing.T) {
	md := readyMetadata(t, 0x1000)
	_, _, a5 := carveMixedSizes(t, md)

	success, req, err := md.CreateAllocationRequest(1050, metadata.AllocationStrategyMinTime)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, region.BlockOf(a5), req.Block)
	require.Equal(t, region.Null, req.Prev)
	require.Equal(t, 1200, req.BlockSize)
}

func TestBestFitTieGoesToFirstSeen(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	p := alloc(t, md, 100, metadata.AllocationStrategyMinMemory)
	alloc(t, md, 8, metadata.AllocationStrategyMinMemory)
	q := alloc(t, md, 100, metadata.AllocationStrategyMinMemory)
	alloc(t, md, 8, metadata.AllocationStrategyMinMemory)

	free(t, md, p)
	free(t, md, q)
	require.Equal(t, []region.Addr{region.BlockOf(q), region.BlockOf(p)}, listAddrs(t, md, 1))

	success, req, err := md.CreateAllocationRequest(96, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, region.BlockOf(q), req.Block)
	require.Equal(t, 1, req.Bin)
}

func TestEscalationLeavesNaturalClassUntouched(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	small := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	alloc(t, md, 8, metadata.AllocationStrategyMinMemory)
	free(t, md, small)
	require.Equal(t, []region.Addr{region.BlockOf(small)}, listAddrs(t, md, 0))

	// 24 bytes belongs in class 0, which only has a 16 byte block
	success, req, err := md.CreateAllocationRequest(24, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 3, req.Bin)

	_, err = md.Alloc(req)
	require.NoError(t, err)

	require.Equal(t, []metadata.Block{
		{Addr: region.BlockOf(small), Size: 16, Next: metadata.SentinelAddr},
	}, freeList(t, md, 0))
	require.NoError(t, md.Validate())
}

func TestNoBlockLargeEnough(t *testing.T) {
	md := readyMetadata(t, 0x1000)
	carveMixedSizes(t, md)

	success, _, err := md.CreateAllocationRequest(1600, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.False(t, success)
}

func TestInvalidAllocSize(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	_, _, err := md.CreateAllocationRequest(0, metadata.AllocationStrategyMinMemory)
	require.Error(t, err)
}

func TestStaleRequestIsRejected(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	success, req, err := md.CreateAllocationRequest(16, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.True(t, success)

	_, err = md.Alloc(req)
	require.NoError(t, err)

	_, err = md.Alloc(req)
	require.Error(t, err)

	_, err = md.Alloc(metadata.AllocationRequest{})
	require.Error(t, err)
}

func TestDoubleFreeOfLinkedBlockPanics(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	a := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	free(t, md, a)

	require.Panics(t, func() {
		_ = md.Free(region.BlockOf(a))
	})
}

func TestFreeOutsideRegions(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	require.Error(t, md.Free(0x9000))
	require.Error(t, md.Free(metadata.SentinelAddr))
}

func TestNoMergeAcrossRegions(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	whole := alloc(t, md, pageUnit-region.HeaderSize, metadata.AllocationStrategyMinMemory)
	_, err := md.AddRegion(region.Region{Base: 0x2000, Data: make([]byte, pageUnit)})
	require.NoError(t, err)

	next := alloc(t, md, pageUnit-region.HeaderSize, metadata.AllocationStrategyMinMemory)
	require.Equal(t, region.Addr(0x2010), next)

	free(t, md, next)
	free(t, md, whole)

	// the first region ends where the second begins, but blocks never span regions
	require.Equal(t, []region.Addr{0x1000, 0x2000}, listAddrs(t, md, 3))
	require.NoError(t, md.Validate())
}

func TestValidateDetectsUnlistedFreeBlock(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	a := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	require.NoError(t, md.Validate())

	md.Regions().SetNext(region.BlockOf(a), 0x1234)
	require.Error(t, md.Validate())
}

func TestValidateDetectsBrokenTiling(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	a := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	md.Regions().SetSize(region.BlockOf(a), 8000)
	require.Error(t, md.Validate())
}

func TestDetailedStatistics(t *testing.T) {
	md := readyMetadata(t, 0x1000)

	a := alloc(t, md, 16, metadata.AllocationStrategyMinMemory)
	alloc(t, md, 200, metadata.AllocationStrategyMinMemory)
	free(t, md, a)

	var stats memutils.DetailedStatistics
	stats.Clear()
	md.AddDetailedStatistics(&stats)

	remainder := pageUnit - 3*region.HeaderSize - 16 - 200
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			RegionCount:     1,
			RegionBytes:     pageUnit,
			AllocationCount: 1,
			AllocationBytes: 200,
		},
		UnusedRangeCount:   2,
		UnusedRangeBytes:   16 + remainder,
		AllocationSizeMin:  200,
		AllocationSizeMax:  200,
		UnusedRangeSizeMin: 16,
		UnusedRangeSizeMax: remainder,
	}, stats)
}

func TestDetailedStatisticsEmpty(t *testing.T) {
	md := readyMetadata(t)

	var stats memutils.DetailedStatistics
	stats.Clear()
	md.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		AllocationSizeMin:  math.MaxInt,
		UnusedRangeSizeMin: math.MaxInt,
	}, stats)
}

func TestPrintDetailedMap(t *testing.T) {
	md := readyMetadata(t, 0x1000)
	alloc(t, md, 16, metadata.AllocationStrategyMinMemory)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	md.PrintDetailedMap(&obj)
	obj.End()
	require.NoError(t, writer.Error())

	require.JSONEq(t, `{
		"TotalBytes": 4096,
		"Regions": 1,
		"UnusedBytes": 4048,
		"Allocations": 1,
		"UnusedRanges": 1,
		"Bins": [
			{"Index": 0, "Lower": 0, "Upper": 64, "FreeBlocks": []},
			{"Index": 1, "Lower": 64, "Upper": 256, "FreeBlocks": []},
			{"Index": 2, "Lower": 256, "Upper": 1024, "FreeBlocks": []},
			{"Index": 3, "Lower": 1024, "Upper": 4096, "FreeBlocks": [{"Address": "0x1020", "Size": 4048}]}
		]
	}`, string(writer.Bytes()))
}

func TestStrategyString(t *testing.T) {
	require.Equal(t, "MinMemory", metadata.AllocationStrategyMinMemory.String())
	require.Equal(t, "MinTime", metadata.AllocationStrategyMinTime.String())

	strategy, ok := metadata.ParseAllocationStrategy("MinTime")
	require.True(t, ok)
	require.Equal(t, metadata.AllocationStrategyMinTime, strategy)

	_, ok = metadata.ParseAllocationStrategy("Fastest")
	require.False(t, ok)
}
