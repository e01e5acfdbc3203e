// Package bins maps payload sizes onto a small, fixed set of size classes. Each class owns one
// free list in metadata.BinnedMetadata.
package bins

import (
	"github.com/cockroachdb/errors"
)

// DefaultThresholds are the class boundaries used when no others are provided. They produce four
// classes: [0,64), [64,256), [256,1024) and [1024,+inf).
var DefaultThresholds = []int{0, 64, 256, 1024, 4096}

var defaultTable = mustTable(DefaultThresholds...)

// Table is an immutable size class table. Class i holds sizes in [thresholds[i], thresholds[i+1]),
// except the last class, which also holds every size at or beyond the final threshold.
type Table struct {
	thresholds []int
}

// NewTable builds a Table from a list of at least two thresholds. The first threshold must be 0 and
// the list must be strictly increasing.
func NewTable(thresholds ...int) (*Table, error) {
	if len(thresholds) < 2 {
		return nil, errors.Newf("a size class table needs at least two thresholds, but %d were provided", len(thresholds))
	}
	if thresholds[0] != 0 {
		return nil, errors.Newf("the first size class threshold must be 0, but it was %d", thresholds[0])
	}

	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, errors.Newf("size class thresholds must be strictly increasing, but threshold %d (%d) follows %d",
				i, thresholds[i], thresholds[i-1])
		}
	}

	copied := make([]int, len(thresholds))
	copy(copied, thresholds)
	return &Table{thresholds: copied}, nil
}

func mustTable(thresholds ...int) *Table {
	table, err := NewTable(thresholds...)
	if err != nil {
		panic(err)
	}
	return table
}

// Default returns the table built from DefaultThresholds
func Default() *Table {
	return defaultTable
}

// Count returns the number of size classes
func (t *Table) Count() int {
	return len(t.thresholds) - 1
}

// Index returns the size class for a payload of the given size. It never fails: sizes below zero land
// in class 0 and sizes at or beyond the last threshold land in the last class.
func (t *Table) Index(size int) int {
	last := t.Count() - 1
	for i := 0; i < last; i++ {
		if size < t.thresholds[i+1] {
			return i
		}
	}

	return last
}

// Lower returns the smallest size that maps to the provided class
func (t *Table) Lower(class int) int {
	return t.thresholds[class]
}

// Upper returns the threshold that closes the provided class. Sizes at or beyond it still map to the
// last class.
func (t *Table) Upper(class int) int {
	return t.thresholds[class+1]
}

// Thresholds returns a copy of the thresholds the table was built from
func (t *Table) Thresholds() []int {
	copied := make([]int, len(t.thresholds))
	copy(copied, t.thresholds)
	return copied
}
