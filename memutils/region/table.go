package region

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/binalloc/memutils"
)

// Table is the set of regions owned by one heap, keyed by their page-aligned base address.
type Table struct {
	pageUnit int
	mask     Addr
	regions  *swiss.Map[Addr, *Region]
	order    []*Region
}

// NewTable creates an empty Table for regions of exactly pageUnit bytes. pageUnit must be a power of
// two large enough to hold at least two block headers.
func NewTable(pageUnit int) (*Table, error) {
	err := memutils.CheckPow2(pageUnit, "page unit")
	if err != nil {
		return nil, err
	}
	if pageUnit < 2*HeaderSize {
		return nil, errors.Newf("page unit %d cannot hold two block headers of %d bytes", pageUnit, HeaderSize)
	}

	return &Table{
		pageUnit: pageUnit,
		mask:     Addr(pageUnit - 1),
		regions:  swiss.NewMap[Addr, *Region](16),
	}, nil
}

// PageUnit returns the size in bytes of every region in this table
func (t *Table) PageUnit() int { return t.pageUnit }

// Len returns the number of regions in this table
func (t *Table) Len() int { return len(t.order) }

// TotalBytes returns the total number of bytes owned by this table
func (t *Table) TotalBytes() int { return len(t.order) * t.pageUnit }

// Regions returns the owned regions in the order they were added
func (t *Table) Regions() []*Region {
	regions := make([]*Region, len(t.order))
	copy(regions, t.order)
	return regions
}

// Add takes ownership of a region. The region must be placed at a nonzero page-aligned base, must be
// exactly one page unit long and must not already be owned.
func (t *Table) Add(r Region) (*Region, error) {
	if r.Base == Null {
		return nil, errors.New("a region cannot be placed at the null address")
	}
	if r.Base&t.mask != 0 {
		return nil, errors.Newf("region base %#x is not aligned to the page unit %d", uint64(r.Base), t.pageUnit)
	}
	if len(r.Data) != t.pageUnit {
		return nil, errors.Newf("region at %#x is %d bytes, but the page unit is %d", uint64(r.Base), len(r.Data), t.pageUnit)
	}
	if t.regions.Has(r.Base) {
		return nil, errors.Newf("region at %#x is already owned", uint64(r.Base))
	}

	owned := &Region{Base: r.Base, Data: r.Data}
	t.regions.Put(owned.Base, owned)
	t.order = append(t.order, owned)

	return owned, nil
}

// Clear forgets every region. Their memory is not returned anywhere.
func (t *Table) Clear() {
	t.regions = swiss.NewMap[Addr, *Region](16)
	t.order = nil
}

func (t *Table) regionFor(addr Addr) (*Region, bool) {
	return t.regions.Get(addr &^ t.mask)
}

// Locate resolves [addr, addr+length) to the region that holds it and the offset of addr within that
// region. It returns ErrOutOfBounds if the range is not inside a single owned region.
func (t *Table) Locate(addr Addr, length int) (*Region, int, error) {
	r, ok := t.regionFor(addr)
	if !ok || !r.Contains(addr, length) {
		return nil, 0, errors.Wrapf(ErrOutOfBounds, "range [%#x, +%d)", uint64(addr), length)
	}

	return r, int(addr - r.Base), nil
}

// Contains returns true if [addr, addr+length) lies inside a single owned region
func (t *Table) Contains(addr Addr, length int) bool {
	r, ok := t.regionFor(addr)
	return ok && r.Contains(addr, length)
}

// SameRegion returns true if both addresses lie inside the same owned region
func (t *Table) SameRegion(a, b Addr) bool {
	r, ok := t.regionFor(a)
	return ok && r.Contains(a, 0) && r.Contains(b, 0) && b < r.End()
}

// Bytes returns a view of [addr, addr+length) in region memory. The view cannot be grown past length.
func (t *Table) Bytes(addr Addr, length int) ([]byte, error) {
	r, offset, err := t.Locate(addr, length)
	if err != nil {
		return nil, err
	}

	return r.Data[offset : offset+length : offset+length], nil
}

func (t *Table) header(block Addr) ([]byte, int) {
	r, offset, err := t.Locate(block, HeaderSize)
	if err != nil {
		panic(fmt.Sprintf("block header at %#x is not inside an owned region", uint64(block)))
	}

	return r.Data, offset
}

// Size reads the payload size from the header at block
func (t *Table) Size(block Addr) int {
	data, offset := t.header(block)
	return int(readUint64(data, offset+sizeOffset))
}

// SetSize writes the payload size into the header at block
func (t *Table) SetSize(block Addr, size int) {
	if size < 0 {
		panic(fmt.Sprintf("block at %#x cannot have negative size %d", uint64(block), size))
	}

	data, offset := t.header(block)
	writeUint64(data, offset+sizeOffset, uint64(size))
}

// Next reads the free list link from the header at block
func (t *Table) Next(block Addr) Addr {
	data, offset := t.header(block)
	return Addr(readUint64(data, offset+nextOffset))
}

// SetNext writes the free list link into the header at block
func (t *Table) SetNext(block Addr, next Addr) {
	data, offset := t.header(block)
	writeUint64(data, offset+nextOffset, uint64(next))
}

// End returns the address immediately following the payload of the block at block. This is where
// the block's right-hand physical neighbor begins, if it has one.
func (t *Table) End(block Addr) Addr {
	return PayloadOf(block) + Addr(t.Size(block))
}
