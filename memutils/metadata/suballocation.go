package metadata

import "github.com/vkngwrapper/binalloc/memutils/region"

// SentinelAddr is the address of the shared terminator at the end of every free list. It is not
// 8-byte aligned, so no real block can start or end there.
const SentinelAddr region.Addr = 1

// Block is a snapshot of one block header
type Block struct {
	Addr region.Addr
	Size int
	Next region.Addr
}

// Payload returns the address of the block's payload
func (b Block) Payload() region.Addr {
	return region.PayloadOf(b.Addr)
}

// End returns the first address past the block's payload
func (b Block) End() region.Addr {
	return b.Payload() + region.Addr(b.Size)
}

// IsFree returns true if the block was linked into a free list when the snapshot was taken. Every
// free block links to another block or to the sentinel, while allocated blocks link to nothing.
func (b Block) IsFree() bool {
	return b.Next != region.Null
}

type sentinelBlock struct {
	size int
	next region.Addr
}
