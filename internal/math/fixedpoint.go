package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// PrecisionDecimals is the decimal precision of every peg-denominated value
// and of the health factor.
const PrecisionDecimals = 18

// MaxDecimals is the largest exponent whose power of ten fits in 256 bits.
const MaxDecimals = 77

var (
	ErrOverflow       = errors.New("fixedpoint: uint256 overflow")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// Precision returns a fresh 1e18.
func Precision() *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(PrecisionDecimals))
}

// Pow10 returns 10^n, or ErrOverflow when n exceeds MaxDecimals.
func Pow10(n uint8) (*uint256.Int, error) {
	if n > MaxDecimals {
		return nil, fmt.Errorf("%w: 10^%d", ErrOverflow, n)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n))), nil
}

// MaxUint256 returns 2^256-1, the health factor of an account without debt.
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// MulDiv computes x * y / d with a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}

	quotient, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}

	if mode == RoundDown {
		return quotient, nil
	}

	remainder := new(uint256.Int).MulMod(x, y, d)
	if remainder.IsZero() {
		return quotient, nil
	}

	roundUp := false
	switch mode {
	case RoundUp:
		roundUp = true
	case RoundHalfEven:
		// remainder vs d - remainder avoids doubling the remainder
		rest := new(uint256.Int).Sub(d, remainder)
		switch remainder.Cmp(rest) {
		case 1:
			roundUp = true
		case 0:
			roundUp = quotient.Uint64()&1 == 1
		}
	}

	if roundUp {
		if _, overflow := quotient.AddOverflow(quotient, uint256.NewInt(1)); overflow {
			return nil, ErrOverflow
		}
	}
	return quotient, nil
}

// ScaleDecimals rescales v from `from` decimals to `to` decimals, truncating
// when precision is lost.
func ScaleDecimals(v *uint256.Int, from, to uint8) (*uint256.Int, error) {
	switch {
	case from == to:
		return v.Clone(), nil
	case from < to:
		factor, err := Pow10(to - from)
		if err != nil {
			return nil, err
		}
		out, overflow := new(uint256.Int).MulOverflow(v, factor)
		if overflow {
			return nil, ErrOverflow
		}
		return out, nil
	default:
		factor, err := Pow10(from - to)
		if err != nil {
			return nil, err
		}
		return new(uint256.Int).Div(v, factor), nil
	}
}

// FormatUnits renders a fixed-point integer with the given number of
// decimals, trimming trailing zeros ("15000000000000000000", 18 -> "15").
func FormatUnits(v *uint256.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String()
}

// ParseUnits converts a human-readable decimal string into a fixed-point
// integer with the given number of decimals. Excess fractional digits and
// negative values are rejected.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse units %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse units %q: negative value", s)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("parse units %q: more than %d decimals", s, decimals)
	}

	out, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
