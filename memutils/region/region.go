// Package region owns every piece of address arithmetic in the allocator. Blocks live inside
// page-aligned regions of raw memory, and a block is nothing more than a 16-byte header at some
// address followed by its payload:
//
//	... | size (8 bytes) | next (8 bytes) | payload ... | ...
//	    ^                                 ^
//	    block                             PayloadOf(block)
//
// Callers refer to blocks and payloads by Addr. The Table resolves an Addr to the region that holds it
// and reads or writes the header fields in little-endian order, bounds-checking every access.
package region

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Addr is an address in a heap's address space. Regions are page-aligned, so the region that holds an
// address can be found by masking the address down to the page unit.
type Addr uint64

// Null is the absent address. No region may be placed at address 0.
const Null Addr = 0

const (
	sizeOffset = 0
	nextOffset = 8

	// HeaderSize is the number of bytes in front of every payload
	HeaderSize = 16
)

// ErrOutOfBounds is returned when an address range does not lie inside a single owned region
var ErrOutOfBounds = errors.New("address range is outside of every owned region")

// Region is a contiguous range of raw memory supplied by a page source
type Region struct {
	Base Addr
	Data []byte
}

// Len returns the size of the region in bytes
func (r *Region) Len() int {
	return len(r.Data)
}

// End returns the first address past the end of the region
func (r *Region) End() Addr {
	return r.Base + Addr(len(r.Data))
}

// Contains returns true if [addr, addr+length) lies inside this region
func (r *Region) Contains(addr Addr, length int) bool {
	if length < 0 || addr < r.Base {
		return false
	}

	offset := uint64(addr - r.Base)
	return offset+uint64(length) <= uint64(len(r.Data))
}

// PayloadOf returns the address of the payload that belongs to the block header at block
func PayloadOf(block Addr) Addr {
	return block + HeaderSize
}

// BlockOf returns the address of the block header that belongs to the payload at payload
func BlockOf(payload Addr) Addr {
	return payload - HeaderSize
}

func readUint64(data []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(data[offset : offset+8])
}

func writeUint64(data []byte, offset int, value uint64) {
	binary.LittleEndian.PutUint64(data[offset:offset+8], value)
}
