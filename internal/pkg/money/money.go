// Package money converts between decimal amounts and int64 minor units.
// Balances and prices are stored in minor units (satang for THB).
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits.
const Scale = 2

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrPrecision     = errors.New("amount has more than two decimal places")
)

var hundred = decimal.NewFromInt(100)

// Parse reads a decimal string such as "37.50" into minor units.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// FromDecimal converts an exact two-place decimal to minor units.
func FromDecimal(d decimal.Decimal) (int64, error) {
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, d.String())
	}
	return scaled.IntPart(), nil
}

// ToDecimal converts minor units to a decimal amount.
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// Format renders minor units as a fixed two-place string.
func Format(minor int64) string {
	return ToDecimal(minor).StringFixed(Scale)
}

// CeilUnit rounds d up to the next whole currency unit and returns minor units.
func CeilUnit(d decimal.Decimal) int64 {
	return d.Ceil().Mul(hundred).IntPart()
}

// DriftExceeds reports whether current differs from reference by strictly more than pct percent.
func DriftExceeds(reference, current decimal.Decimal, pct int64) bool {
	if reference.IsZero() {
		return !current.IsZero()
	}
	delta := current.Sub(reference).Abs()
	limit := reference.Abs().Mul(decimal.NewFromInt(pct)).Div(hundred)
	return delta.GreaterThan(limit)
}
