package metadata

import "github.com/vkngwrapper/binalloc/memutils/region"

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates which
// free block the metadata intends to hand out. It can be committed with BlockMetadata.Alloc as long as
// the free lists have not changed in the meantime.
type AllocationRequest struct {
	// Block is the header address of the chosen free block
	Block region.Addr
	// Prev is the block in front of Block in its free list, or region.Null if Block is the head
	Prev region.Addr
	// Bin is the size class whose list Block was found in. A remainder split off of Block goes back
	// into this list.
	Bin int
	// BlockSize is the payload size of Block at the time the request was created
	BlockSize int
	// Size is the requested payload size
	Size int
}
