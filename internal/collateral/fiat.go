package collateral

import (
	"context"
	"time"

	"collateralwatch/internal/fixedpoint"
	"collateralwatch/internal/oracle"
)

// FiatCollateral prices a fiat-pegged token from a single feed. The token
// is its own reference unit, so refPerTok is the constant 1.
type FiatCollateral struct {
	feed        oracle.Feed
	timeout     time.Duration
	oracleError fixedpoint.Fix
}

// NewFiatCollateral builds the single-feed fiat recipe.
func NewFiatCollateral(feed oracle.Feed, timeout time.Duration, oracleError fixedpoint.Fix) *FiatCollateral {
	return &FiatCollateral{feed: feed, timeout: timeout, oracleError: oracleError}
}

// TryPrice reads the feed and widens the nominal price multiplicatively by
// the oracle's stated relative error.
func (f *FiatCollateral) TryPrice(ctx context.Context, now time.Time) (PriceSample, error) {
	p, err := oracle.Read(ctx, f.feed, f.timeout, now)
	if err != nil {
		return PriceSample{}, err
	}
	low, high := errorBand(p, f.oracleError)
	return PriceSample{Low: low, High: high, PegPrice: p}, nil
}

// RefPerTok is the constant 1: the token is the reference unit.
func (f *FiatCollateral) RefPerTok(context.Context) (fixedpoint.Fix, error) {
	return fixedpoint.One(), nil
}

// TargetPerRef is 1: the reference should track the target one-for-one.
func (f *FiatCollateral) TargetPerRef() fixedpoint.Fix { return fixedpoint.One() }

// errorBand widens price p by relative error e: low = p/(1+e),
// high = p/(1-e). The band is multiplicative because the stated error is
// itself a relative quantity.
func errorBand(p, e fixedpoint.Fix) (low, high fixedpoint.Fix) {
	one := fixedpoint.One()
	return p.Div(one.Plus(e)), p.Div(one.Minus(e))
}

var _ Pricer = (*FiatCollateral)(nil)
