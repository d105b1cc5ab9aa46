// Package amount provides overflow-checked arithmetic on share and
// quote-currency magnitudes. Balances are uint64; multiplication and
// pro-rata division go through a 128-bit intermediate so large supplies
// never lose precision or wrap silently.
package amount

import (
	"errors"
	"math/bits"
)

// ErrOverflow is returned when a result would exceed the uint64 range.
var ErrOverflow = errors.New("amount: arithmetic overflow")

// ErrUnderflow is returned when a subtraction would go below zero.
var ErrUnderflow = errors.New("amount: arithmetic underflow")

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// ProRata returns floor(total * part / whole) using a full 128-bit
// intermediate product. whole must be non-zero and part <= whole, which
// also guarantees the quotient fits in uint64.
func ProRata(total, part, whole uint64) (uint64, error) {
	if whole == 0 {
		return 0, errors.New("amount: pro-rata with zero denominator")
	}
	if part > whole {
		return 0, ErrOverflow
	}
	if part == 0 || total == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(total, part)
	quo, _ := bits.Div64(hi, lo, whole)
	return quo, nil
}
