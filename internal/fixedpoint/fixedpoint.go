// Package fixedpoint implements deterministic decimal arithmetic over a
// signed fixed-point representation with 18 fractional digits. All rates and
// prices in the engine flow through this type; multiplication and division
// truncate toward zero, and any result wider than 256 bits aborts the call.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// Decimals is the implicit fractional digit count of every Fix.
	Decimals = 18
)

var (
	// ErrOverflow is the panic value raised when an operation exceeds the
	// 256-bit representation. A silently wrapped price is a security
	// incident, so overflow is never returned as a recoverable error.
	ErrOverflow = errors.New("fixedpoint: overflow")

	// ErrDivideByZero is the panic value raised on division by zero.
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")

	scale    = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
	maxValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	minValue = new(big.Int).Neg(maxValue)
)

// Fix is an immutable fixed-point value. The zero value is 0.
type Fix struct {
	v *big.Int
}

// Zero returns the zero value.
func Zero() Fix { return Fix{} }

// One returns 1.0.
func One() Fix { return FromInt(1) }

// FromInt converts a whole number of units.
func FromInt(n int64) Fix {
	return checked(new(big.Int).Mul(big.NewInt(n), scale))
}

// FromRaw wraps an already-scaled integer (10^-18 units). The input is
// copied; callers keep ownership of raw.
func FromRaw(raw *big.Int) Fix {
	if raw == nil {
		return Fix{}
	}
	return checked(new(big.Int).Set(raw))
}

// FromScaled converts an integer carrying the given number of fractional
// digits, e.g. a Chainlink answer with 8 feed decimals.
func FromScaled(n *big.Int, decimals uint8) Fix {
	if n == nil {
		return Fix{}
	}
	v := new(big.Int).Set(n)
	switch {
	case decimals < Decimals:
		shift := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(Decimals-decimals)), nil)
		v.Mul(v, shift)
	case decimals > Decimals:
		shift := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)-Decimals), nil)
		v.Quo(v, shift)
	}
	return checked(v)
}

// FromDecimal converts a decimal.Decimal, truncating toward zero past 18
// fractional digits.
func FromDecimal(d decimal.Decimal) Fix {
	return checked(d.Shift(Decimals).Truncate(0).BigInt())
}

func checked(v *big.Int) Fix {
	if v.Cmp(maxValue) > 0 || v.Cmp(minValue) < 0 {
		panic(ErrOverflow)
	}
	return Fix{v: v}
}

func (f Fix) raw() *big.Int {
	if f.v == nil {
		return big.NewInt(0)
	}
	return f.v
}

// Raw returns a copy of the scaled integer representation.
func (f Fix) Raw() *big.Int { return new(big.Int).Set(f.raw()) }

// Plus returns f + x.
func (f Fix) Plus(x Fix) Fix {
	return checked(new(big.Int).Add(f.raw(), x.raw()))
}

// Minus returns f - x.
func (f Fix) Minus(x Fix) Fix {
	return checked(new(big.Int).Sub(f.raw(), x.raw()))
}

// Mul returns f * x truncated toward zero.
func (f Fix) Mul(x Fix) Fix {
	p := new(big.Int).Mul(f.raw(), x.raw())
	return checked(p.Quo(p, scale))
}

// Div returns f / x truncated toward zero. Division by zero panics.
func (f Fix) Div(x Fix) Fix {
	if x.IsZero() {
		panic(ErrDivideByZero)
	}
	p := new(big.Int).Mul(f.raw(), scale)
	return checked(p.Quo(p, x.raw()))
}

// Sqrt returns the square root truncated down. Negative input panics with
// ErrOverflow since no representable result exists.
func (f Fix) Sqrt() Fix {
	if f.Sign() < 0 {
		panic(ErrOverflow)
	}
	// sqrt(v/1e18) in fixed point is isqrt(v*1e18); big.Int.Sqrt iterates
	// Newton's method and truncates down.
	p := new(big.Int).Mul(f.raw(), scale)
	return checked(p.Sqrt(p))
}

// Min returns the smaller of f and x.
func (f Fix) Min(x Fix) Fix {
	if f.Cmp(x) <= 0 {
		return f
	}
	return x
}

// Cmp compares f and x, returning -1, 0, or 1.
func (f Fix) Cmp(x Fix) int { return f.raw().Cmp(x.raw()) }

// Lt reports f < x.
func (f Fix) Lt(x Fix) bool { return f.Cmp(x) < 0 }

// Gt reports f > x.
func (f Fix) Gt(x Fix) bool { return f.Cmp(x) > 0 }

// Sign returns -1, 0, or 1.
func (f Fix) Sign() int { return f.raw().Sign() }

// IsZero reports whether f is exactly zero.
func (f Fix) IsZero() bool { return f.raw().Sign() == 0 }

// Decimal converts to a decimal.Decimal for persistence and display.
func (f Fix) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(f.raw(), -Decimals)
}

// String renders the value in plain decimal notation.
func (f Fix) String() string { return f.Decimal().String() }
