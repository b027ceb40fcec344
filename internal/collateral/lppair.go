package collateral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collateralwatch/internal/chain"
	"collateralwatch/internal/fixedpoint"
	"collateralwatch/internal/oracle"
)

// PeggedTokens is a bitmap naming which pooled assets are expected to be
// pegged to the unit of account.
type PeggedTokens uint8

const (
	// Token0Pegged marks the pool's first asset as pegged.
	Token0Pegged PeggedTokens = 1 << iota
	// Token1Pegged marks the pool's second asset as pegged.
	Token1Pegged
)

// PoolReader reads one consistent reserve/supply observation.
type PoolReader interface {
	PoolState(ctx context.Context) (chain.PoolState, error)
}

// LPPairCollateral prices a two-asset constant-product pool share. Value is
// the reserve-weighted sum of the constituents' independently-fed prices
// per pool share; refPerTok is the invariant's implied per-share rate
// sqrt(r0·r1)/supply. Any decrease of that rate is a hard default trigger
// regardless of cause, including ordinary in-pool trading.
type LPPairCollateral struct {
	feed0       oracle.Feed // {UoA/tok0}
	feed1       oracle.Feed // {UoA/tok1}
	pool        PoolReader
	pegged      PeggedTokens
	timeout     time.Duration
	oracleError fixedpoint.Fix
	threshold   fixedpoint.Fix
}

// LPPairOptions parameterise the pool recipe.
type LPPairOptions struct {
	Feed0       oracle.Feed
	Feed1       oracle.Feed
	Pool        PoolReader
	Pegged      PeggedTokens
	Timeout     time.Duration
	OracleError fixedpoint.Fix
	// Threshold is the peg-deviation band applied to each pegged
	// constituent; the pool-level balance band is the collateral's own
	// DefaultThreshold via the peg price.
	Threshold fixedpoint.Fix
}

// NewLPPairCollateral builds the pool recipe.
func NewLPPairCollateral(opts LPPairOptions) (*LPPairCollateral, error) {
	if opts.Feed0 == nil || opts.Feed1 == nil {
		return nil, errors.New("collateral: both constituent feeds required")
	}
	if opts.Pool == nil {
		return nil, errors.New("collateral: pool reader required")
	}
	if opts.Pegged > Token0Pegged|Token1Pegged {
		return nil, fmt.Errorf("collateral: pegged bitmap %#x out of range", uint8(opts.Pegged))
	}
	return &LPPairCollateral{
		feed0:       opts.Feed0,
		feed1:       opts.Feed1,
		pool:        opts.Pool,
		pegged:      opts.Pegged,
		timeout:     opts.Timeout,
		oracleError: opts.OracleError,
		threshold:   opts.Threshold,
	}, nil
}

// TryPrice computes the pool share value (p0·r0 + p1·r1)/supply. PegPrice
// is the pool-implied value balance (r0·p0)/(r1·p1), which sits at 1 for a
// pool in equilibrium with its oracles.
func (l *LPPairCollateral) TryPrice(ctx context.Context, now time.Time) (PriceSample, error) {
	p0, err := oracle.Read(ctx, l.feed0, l.timeout, now)
	if err != nil {
		return PriceSample{}, err
	}
	p1, err := oracle.Read(ctx, l.feed1, l.timeout, now)
	if err != nil {
		return PriceSample{}, err
	}

	state, err := l.pool.PoolState(ctx)
	if err != nil {
		return PriceSample{}, err
	}
	if state.TotalSupply.IsZero() {
		return PriceSample{}, errors.New("collateral: pool has zero supply")
	}

	side0 := p0.Mul(state.Reserve0)
	side1 := p1.Mul(state.Reserve1)
	price := side0.Plus(side1).Div(state.TotalSupply)
	low, high := errorBand(price, l.oracleError)

	pegPrice := fixedpoint.Zero()
	if !side1.IsZero() {
		pegPrice = side0.Div(side1)
	}
	return PriceSample{Low: low, High: high, PegPrice: pegPrice}, nil
}

// RefPerTok is the constant-product invariant's per-share rate. Monotonic
// non-decreasing only in the absence of value-extracting trades inside the
// observation window; callers treat any decrease as a hard default.
func (l *LPPairCollateral) RefPerTok(ctx context.Context) (fixedpoint.Fix, error) {
	state, err := l.pool.PoolState(ctx)
	if err != nil {
		return fixedpoint.Fix{}, err
	}
	if state.TotalSupply.IsZero() {
		return fixedpoint.Fix{}, errors.New("collateral: pool has zero supply")
	}
	return state.Reserve0.Mul(state.Reserve1).Sqrt().Div(state.TotalSupply), nil
}

// TargetPerRef is 1: the pool's value balance sits at par in equilibrium.
func (l *LPPairCollateral) TargetPerRef() fixedpoint.Fix { return fixedpoint.One() }

// PoolSound checks the constituent pegs named by the bitmap and, when both
// constituents share the peg, cross-feed agreement within twice the oracle
// error. Any single failing comparison marks IFFY through the caller.
func (l *LPPairCollateral) PoolSound(ctx context.Context, now time.Time) (bool, error) {
	p0, err := oracle.Read(ctx, l.feed0, l.timeout, now)
	if err != nil {
		return false, err
	}
	p1, err := oracle.Read(ctx, l.feed1, l.timeout, now)
	if err != nil {
		return false, err
	}

	one := fixedpoint.One()
	delta := one.Mul(l.threshold)
	bottom, top := one.Minus(delta), one.Plus(delta)

	if l.pegged&Token0Pegged != 0 && (p0.Lt(bottom) || p0.Gt(top)) {
		return false, nil
	}
	if l.pegged&Token1Pegged != 0 && (p1.Lt(bottom) || p1.Gt(top)) {
		return false, nil
	}

	if l.pegged == Token0Pegged|Token1Pegged {
		tolerance := l.oracleError.Plus(l.oracleError)
		ratio := p0.Div(p1)
		if ratio.Lt(one.Minus(tolerance)) || ratio.Gt(one.Plus(tolerance)) {
			return false, nil
		}
	}

	return true, nil
}

var (
	_ Pricer      = (*LPPairCollateral)(nil)
	_ PoolChecker = (*LPPairCollateral)(nil)
)
