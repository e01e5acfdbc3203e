package heap

import "github.com/cockroachdb/errors"

// ErrInvalidSize is returned by Allocate for a size outside the heap's request range, or one that is
// not a multiple of its alignment
var ErrInvalidSize = errors.New("invalid allocation size")

// ErrInvalidReference is returned when a reference does not resolve to a block header inside a region
// owned by the heap
var ErrInvalidReference = errors.New("reference does not point into the heap")

// ErrPageSource marks errors that came from the heap's page source
var ErrPageSource = errors.New("page source failure")
