package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that sizes and offsets are expressed in
type Number interface {
	constraints.Integer
}

// CheckPow2 returns PowerOfTwoError, annotated with name, if number is not a positive power of two
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned returns AlignmentError, annotated with name, if number is not a multiple of alignment.
// alignment must be a power of two.
func CheckAligned[T Number](number T, alignment uint, name string) error {
	if !IsAligned(number, alignment) {
		return cerrors.Wrapf(AlignmentError, "%s is %d, alignment is %d", name, number, alignment)
	}
	return nil
}

func IsAligned[T Number](value T, alignment uint) bool {
	return value&T(alignment-1) == 0
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// RoundUpPow2 returns the smallest power of two that is at least value
func RoundUpPow2(value int) int {
	result := 1
	for result < value {
		result <<= 1
	}
	return result
}
