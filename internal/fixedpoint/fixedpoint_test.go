package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMulTruncatesTowardZero(t *testing.T) {
	// 1 / 3 * 3 = 0.999999999999999999 after truncation, not 1.
	third := One().Div(FromInt(3))
	back := third.Mul(FromInt(3))
	want := One().Minus(FromRaw(big.NewInt(1)))
	if back.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, back)
	}

	neg := FromInt(-1).Div(FromInt(3)).Mul(FromInt(3))
	wantNeg := FromInt(-1).Plus(FromRaw(big.NewInt(1)))
	if neg.Cmp(wantNeg) != 0 {
		t.Fatalf("negative truncation should round toward zero: got %s", neg)
	}
}

func TestDivByZeroPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != ErrDivideByZero {
			t.Fatalf("expected ErrDivideByZero panic, got %v", r)
		}
	}()
	One().Div(Zero())
}

func TestOverflowPanics(t *testing.T) {
	huge := FromRaw(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1)))
	defer func() {
		if r := recover(); r != ErrOverflow {
			t.Fatalf("expected ErrOverflow panic, got %v", r)
		}
	}()
	huge.Mul(huge)
}

func TestSqrt(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{0, 0},
		{1, 1},
		{4, 2},
		{9, 3},
		{144, 12},
	}
	for _, tc := range cases {
		got := FromInt(tc.in).Sqrt()
		if got.Cmp(FromInt(tc.want)) != 0 {
			t.Fatalf("sqrt(%d): expected %d, got %s", tc.in, tc.want, got)
		}
	}

	// Non-square input truncates down: sqrt(2) < 1.4142135624.
	root2 := FromInt(2).Sqrt()
	upper := FromDecimal(decimal.RequireFromString("1.414213562373095049"))
	lower := FromDecimal(decimal.RequireFromString("1.414213562373095048"))
	if root2.Gt(upper) || root2.Lt(lower) {
		t.Fatalf("sqrt(2) out of expected range: %s", root2)
	}
}

func TestFromScaled(t *testing.T) {
	// A Chainlink answer of 1.02 with 8 feed decimals.
	got := FromScaled(big.NewInt(102_000_000), 8)
	if got.Cmp(FromDecimal(decimal.RequireFromString("1.02"))) != 0 {
		t.Fatalf("unexpected scaling: %s", got)
	}

	// 20-decimal input truncates the extra digits.
	in, _ := new(big.Int).SetString("123456789012345678999", 10)
	got = FromScaled(in, 20)
	if got.Raw().String() != "1234567890123456789" {
		t.Fatalf("expected truncation, got %s", got.Raw())
	}
}

func TestMinAndComparisons(t *testing.T) {
	a := FromInt(2)
	b := FromInt(3)
	if a.Min(b).Cmp(a) != 0 || b.Min(a).Cmp(a) != 0 {
		t.Fatal("min should pick the smaller operand")
	}
	if !a.Lt(b) || !b.Gt(a) {
		t.Fatal("comparison helpers broken")
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("0.020")
	f := FromDecimal(d)
	if !f.Decimal().Equal(d) {
		t.Fatalf("round trip changed value: %s", f.Decimal())
	}
	if f.String() != "0.02" {
		t.Fatalf("unexpected rendering: %s", f)
	}
}
