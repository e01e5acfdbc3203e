package metadata

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/binalloc/memutils"
	"github.com/vkngwrapper/binalloc/memutils/bins"
	"github.com/vkngwrapper/binalloc/memutils/region"
)

// BinnedMetadata keeps one singly linked free list per size class. Every list ends in a single shared
// sentinel. Free blocks are found by a best-fit scan of one class at a time, escalating to the next
// class when a class has nothing large enough.
//
// Two behaviors are easy to mistake for bugs:
//
//   - A block stays in the list it was inserted into. A remainder split off of a block goes back into
//     the list that was being scanned, not the list its own size maps to.
//   - Free merges only with the block that follows it in memory, and only when that block happens to
//     be the next node in the same list. It does not repeat.
type BinnedMetadata struct {
	BlockMetadataBase

	heads      []region.Addr
	sentinel   sentinelBlock
	allocCount int
	allocBytes int
	freeCount  int
}

var _ BlockMetadata = &BinnedMetadata{}

func NewBinnedMetadata(regions *region.Table, binTable *bins.Table) *BinnedMetadata {
	return &BinnedMetadata{
		BlockMetadataBase: NewBlockMetadata(regions, binTable),
	}
}

func (m *BinnedMetadata) Init() {
	m.regions.Clear()

	m.heads = make([]region.Addr, m.bins.Count())
	for i := range m.heads {
		m.heads[i] = SentinelAddr
	}

	m.sentinel.size = 0
	m.sentinel.next = region.Null

	m.allocCount = 0
	m.allocBytes = 0
	m.freeCount = 0
}

func (m *BinnedMetadata) size(block region.Addr) int {
	if block == SentinelAddr {
		return m.sentinel.size
	}
	return m.regions.Size(block)
}

func (m *BinnedMetadata) next(block region.Addr) region.Addr {
	if block == SentinelAddr {
		return m.sentinel.next
	}
	return m.regions.Next(block)
}

// Head returns the first block in the provided size class's free list. An empty list's head is
// SentinelAddr.
func (m *BinnedMetadata) Head(bin int) region.Addr {
	return m.heads[bin]
}

// Insert pushes block onto the front of a size class's free list. The block must not currently be
// linked into any list.
func (m *BinnedMetadata) Insert(block region.Addr, bin int) {
	if block == SentinelAddr {
		panic("cannot insert the sentinel")
	}
	if m.regions.Next(block) != region.Null {
		panic(fmt.Sprintf("block at %#x is already linked into a free list", uint64(block)))
	}

	m.regions.SetNext(block, m.heads[bin])
	m.heads[bin] = block
	m.freeCount++
}

// Remove splices block out of a size class's free list. prev must be the block immediately in front
// of it, or region.Null if block is the head of the list.
func (m *BinnedMetadata) Remove(block, prev region.Addr, bin int) {
	if block == SentinelAddr {
		panic("cannot remove the sentinel")
	}

	next := m.regions.Next(block)
	if prev != region.Null {
		if m.regions.Next(prev) != block {
			panic(fmt.Sprintf("block at %#x does not precede block at %#x", uint64(prev), uint64(block)))
		}
		m.regions.SetNext(prev, next)
	} else {
		if m.heads[bin] != block {
			panic(fmt.Sprintf("block at %#x is not the head of free list %d", uint64(block), bin))
		}
		m.heads[bin] = next
	}

	m.regions.SetNext(block, region.Null)
	m.freeCount--
}

func (m *BinnedMetadata) AllocationCount() int {
	return m.allocCount
}

func (m *BinnedMetadata) FreeRegionsCount() int {
	return m.freeCount
}

func (m *BinnedMetadata) FreeCounts() []int {
	counts := make([]int, len(m.heads))
	for bin, head := range m.heads {
		for block := head; block != SentinelAddr && block != region.Null; block = m.next(block) {
			counts[bin]++
		}
	}

	return counts
}

func (m *BinnedMetadata) VisitFreeBlocks(bin int, visit func(block Block) error) error {
	if bin < 0 || bin >= len(m.heads) {
		return errors.Errorf("size class %d does not exist", bin)
	}

	for block := m.heads[bin]; block != SentinelAddr && block != region.Null; {
		next := m.regions.Next(block)
		err := visit(Block{Addr: block, Size: m.regions.Size(block), Next: next})
		if err != nil {
			return err
		}
		block = next
	}

	return nil
}

func (m *BinnedMetadata) VisitAllBlocks(visit func(r *region.Region, block Block) error) error {
	for _, r := range m.regions.Regions() {
		for block := r.Base; block < r.End(); {
			if !r.Contains(block, region.HeaderSize) {
				return errors.Errorf("region at %#x ends in the middle of a block header at %#x", uint64(r.Base), uint64(block))
			}

			current := Block{Addr: block, Size: m.regions.Size(block), Next: m.regions.Next(block)}
			if !r.Contains(current.Payload(), current.Size) {
				return errors.Errorf("block at %#x with size %d runs past the end of its region", uint64(block), current.Size)
			}

			err := visit(r, current)
			if err != nil {
				return err
			}

			block = current.End()
		}
	}

	return nil
}

func (m *BinnedMetadata) AddRegion(r region.Region) (Block, error) {
	owned, err := m.regions.Add(r)
	if err != nil {
		return Block{}, err
	}

	// |  header  |      payload      |
	// ^
	// owned.Base
	// <----------------------------->
	//          page unit
	memutils.DebugCheckPow2(owned.Len(), "region length")

	block := owned.Base
	size := owned.Len() - region.HeaderSize
	m.regions.SetSize(block, size)
	m.regions.SetNext(block, region.Null)
	m.Insert(block, m.bins.Index(size))

	return Block{Addr: block, Size: size, Next: m.regions.Next(block)}, nil
}

func (m *BinnedMetadata) CreateAllocationRequest(allocSize int, strategy AllocationStrategy) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Errorf("invalid allocSize: %d", allocSize)
	}

	memutils.DebugValidate(m)

	firstFit := strategy&AllocationStrategyMinTime != 0

	// Each class is scanned on its own; a later class is only visited when nothing in the current
	// one is large enough
	for bin := m.bins.Index(allocSize); bin < len(m.heads); bin++ {
		best := region.Null
		bestPrev := region.Null
		bestSize := 0
		prev := region.Null

		for block := m.heads[bin]; block != region.Null; block = m.next(block) {
			if block != SentinelAddr {
				blockSize := m.regions.Size(block)
				if blockSize >= allocSize && (best == region.Null || blockSize < bestSize) {
					best = block
					bestPrev = prev
					bestSize = blockSize

					if firstFit {
						break
					}
				}
			}
			prev = block
		}

		if best != region.Null {
			allocRequest.Block = best
			allocRequest.Prev = bestPrev
			allocRequest.Bin = bin
			allocRequest.BlockSize = bestSize
			allocRequest.Size = allocSize
			return true, allocRequest, nil
		}
	}

	return false, allocRequest, nil
}

func (m *BinnedMetadata) Alloc(req AllocationRequest) (region.Addr, error) {
	if req.Block == region.Null || req.Block == SentinelAddr {
		return region.Null, errors.New("allocation request does not name a free block")
	}
	if req.Bin < 0 || req.Bin >= len(m.heads) {
		return region.Null, errors.Errorf("allocation request names size class %d, which does not exist", req.Bin)
	}
	if !m.regions.Contains(req.Block, region.HeaderSize) {
		return region.Null, errors.Errorf("allocation request names block %#x, which is outside every region", uint64(req.Block))
	}

	blockSize := m.regions.Size(req.Block)
	if blockSize != req.BlockSize || blockSize < req.Size {
		return region.Null, errors.Errorf("allocation request expected block %#x to have size %d, but it has size %d", uint64(req.Block), req.BlockSize, blockSize)
	}

	if req.Prev == region.Null {
		if m.heads[req.Bin] != req.Block {
			return region.Null, errors.Errorf("allocation request expected block %#x to head free list %d", uint64(req.Block), req.Bin)
		}
	} else if !m.regions.Contains(req.Prev, region.HeaderSize) || m.regions.Next(req.Prev) != req.Block {
		return region.Null, errors.Errorf("allocation request expected block %#x to follow block %#x", uint64(req.Block), uint64(req.Prev))
	}

	m.Remove(req.Block, req.Prev, req.Bin)

	remainingSize := blockSize - req.Size
	if remainingSize > region.HeaderSize {
		// ... | header | payload | header | free remainder | ...
		//     ^                  ^
		//     req.Block          remainder
		//                <-------><------------------------->
		//                req.Size        remainingSize
		m.regions.SetSize(req.Block, req.Size)

		remainder := m.regions.End(req.Block)
		m.regions.SetSize(remainder, remainingSize-region.HeaderSize)
		m.regions.SetNext(remainder, region.Null)
		m.Insert(remainder, req.Bin)
	}

	m.allocCount++
	m.allocBytes += m.regions.Size(req.Block)

	return region.PayloadOf(req.Block), nil
}

func (m *BinnedMetadata) Free(block region.Addr) error {
	if block == SentinelAddr || !m.regions.Contains(block, region.HeaderSize) {
		return errors.Errorf("block %#x is outside every region", uint64(block))
	}

	size := m.regions.Size(block)
	bin := m.bins.Index(size)
	m.Insert(block, bin)

	m.allocCount--
	m.allocBytes -= size

	m.mergeHead(bin)
	return nil
}

// mergeHead absorbs the block that follows the head of a free list in memory, if that block is also
// the head's successor in the list
func (m *BinnedMetadata) mergeHead(bin int) bool {
	head := m.heads[bin]
	next := m.regions.Next(head)
	end := m.regions.End(head)

	if end != next || !m.regions.SameRegion(head, end) {
		return false
	}

	m.regions.SetSize(head, m.regions.Size(head)+region.HeaderSize+m.regions.Size(next))
	m.regions.SetNext(head, m.regions.Next(next))
	m.freeCount--

	return true
}

func (m *BinnedMetadata) Validate() error {
	if m.sentinel.size != 0 || m.sentinel.next != region.Null {
		return errors.Errorf("the sentinel has been overwritten: size %d, next %#x", m.sentinel.size, uint64(m.sentinel.next))
	}

	listed := swiss.NewMap[region.Addr, int](uint32(m.freeCount + 1))

	// Check integrity of free lists
	for bin, head := range m.heads {
		block := head
		for block != SentinelAddr {
			if block == region.Null {
				return errors.Errorf("free list %d ends without reaching the sentinel", bin)
			}
			if !m.regions.Contains(block, region.HeaderSize) {
				return errors.Errorf("free list %d contains block %#x, which is outside every region", bin, uint64(block))
			}
			if owner, ok := listed.Get(block); ok {
				return errors.Errorf("block at %#x appears in free list %d and free list %d", uint64(block), owner, bin)
			}
			listed.Put(block, bin)

			size := m.regions.Size(block)
			if !m.regions.Contains(region.PayloadOf(block), size) {
				return errors.Errorf("free block at %#x with size %d runs past the end of its region", uint64(block), size)
			}

			block = m.regions.Next(block)
		}
	}

	if listed.Count() != m.freeCount {
		return errors.Errorf("the free block count of the metadata is %d, but the free lists hold %d blocks", m.freeCount, listed.Count())
	}

	// Check that the regions are tiled by blocks and that every free block is listed
	var allocCount, allocBytes, freeCount int
	err := m.VisitAllBlocks(func(r *region.Region, block Block) error {
		if block.IsFree() {
			if !listed.Has(block.Addr) {
				return errors.Errorf("block at %#x links to %#x, but it is not in any free list", uint64(block.Addr), uint64(block.Next))
			}
			freeCount++
		} else {
			allocCount++
			allocBytes += block.Size
		}
		return nil
	})
	if err != nil {
		return err
	}

	if freeCount != m.freeCount {
		return errors.Errorf("the free lists hold %d blocks, but only %d free blocks start on a block boundary", m.freeCount, freeCount)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the taken blocks only added up to %d", m.allocCount, allocCount)
	}

	if allocBytes != m.allocBytes {
		return errors.Errorf("the allocated size of the metadata is %d, but the taken blocks only added up to %d", m.allocBytes, allocBytes)
	}

	return nil
}

func (m *BinnedMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.RegionCount += m.regions.Len()
	stats.RegionBytes += m.regions.TotalBytes()
	stats.AllocationCount += m.allocCount
	stats.AllocationBytes += m.allocBytes
}

func (m *BinnedMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.RegionCount += m.regions.Len()
	stats.RegionBytes += m.regions.TotalBytes()

	err := m.VisitAllBlocks(func(r *region.Region, block Block) error {
		if block.IsFree() {
			stats.AddUnusedRange(block.Size)
		} else {
			stats.AddAllocation(block.Size)
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
}

func (m *BinnedMetadata) PrintDetailedMap(json *jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	m.AddDetailedStatistics(&stats)

	m.PrintDetailedMapHeader(json, stats.UnusedRangeBytes, stats.AllocationCount, stats.UnusedRangeCount)

	binsArray := json.Name("Bins").Array()
	defer binsArray.End()

	for bin := range m.heads {
		binObj := binsArray.Object()
		binObj.Name("Index").Int(bin)
		binObj.Name("Lower").Int(m.bins.Lower(bin))
		binObj.Name("Upper").Int(m.bins.Upper(bin))

		blocksArray := binObj.Name("FreeBlocks").Array()
		err := m.VisitFreeBlocks(bin, func(block Block) error {
			blockObj := blocksArray.Object()
			blockObj.Name("Address").String(fmt.Sprintf("%#x", uint64(block.Addr)))
			blockObj.Name("Size").Int(block.Size)
			blockObj.End()
			return nil
		})
		if err != nil {
			panic(err)
		}
		blocksArray.End()
		binObj.End()
	}
}
