package collateral

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"collateralwatch/internal/fixedpoint"
	"collateralwatch/internal/oracle"
)

// RateReader reads the on-chain exchange rate of a wrapped token.
type RateReader interface {
	RefPerTok(ctx context.Context) (fixedpoint.Fix, error)
}

// RewardSweeper reads the accrued balance of a wrapped token's reward
// program.
type RewardSweeper interface {
	RewardTokenAddress() common.Address
	Earned(ctx context.Context) (*big.Int, error)
}

// YieldCollateral prices a wrapped yield-bearing token: one feed gives the
// target price of the reference asset, the wrapper's own exchange rate
// gives the reference units per token. An optional second feed converts
// target units into the unit of account.
type YieldCollateral struct {
	feed        oracle.Feed // {target/ref}
	targetFeed  oracle.Feed // {UoA/target}, nil when target == UoA
	rate        RateReader
	rewards     RewardSweeper // nil when no reward program exists
	timeout     time.Duration
	oracleError fixedpoint.Fix
}

// YieldOptions parameterise the wrapped-yield recipe.
type YieldOptions struct {
	Feed        oracle.Feed
	TargetFeed  oracle.Feed
	Rate        RateReader
	Rewards     RewardSweeper
	Timeout     time.Duration
	OracleError fixedpoint.Fix
}

// NewYieldCollateral builds the wrapped-yield recipe.
func NewYieldCollateral(opts YieldOptions) *YieldCollateral {
	return &YieldCollateral{
		feed:        opts.Feed,
		targetFeed:  opts.TargetFeed,
		rate:        opts.Rate,
		rewards:     opts.Rewards,
		timeout:     opts.Timeout,
		oracleError: opts.OracleError,
	}
}

// TryPrice computes pegPrice × refPerTok × targetPrice with the oracle
// error applied multiplicatively around the nominal value.
func (y *YieldCollateral) TryPrice(ctx context.Context, now time.Time) (PriceSample, error) {
	peg, err := oracle.Read(ctx, y.feed, y.timeout, now)
	if err != nil {
		return PriceSample{}, err
	}

	targetPrice := fixedpoint.One()
	if y.targetFeed != nil {
		targetPrice, err = oracle.Read(ctx, y.targetFeed, y.timeout, now)
		if err != nil {
			return PriceSample{}, err
		}
	}

	rate, err := y.rate.RefPerTok(ctx)
	if err != nil {
		// Math and contract-read failures are bugs, not market
		// conditions; there is no "iffy because math failed" path.
		return PriceSample{}, err
	}

	p := peg.Mul(rate).Mul(targetPrice)
	low, high := errorBand(p, y.oracleError)
	return PriceSample{Low: low, High: high, PegPrice: peg}, nil
}

// RefPerTok reads the wrapper's exchange rate. Non-decreasing while the
// underlying claim is intact; any decrease is a hard default signal.
func (y *YieldCollateral) RefPerTok(ctx context.Context) (fixedpoint.Fix, error) {
	return y.rate.RefPerTok(ctx)
}

// TargetPerRef is 1: the reference asset should track the target.
func (y *YieldCollateral) TargetPerRef() fixedpoint.Fix { return fixedpoint.One() }

// ClaimRewards sweeps the reward program when one exists.
func (y *YieldCollateral) ClaimRewards(ctx context.Context) ([]RewardClaim, error) {
	if y.rewards == nil {
		return nil, nil
	}
	amount, err := y.rewards.Earned(ctx)
	if err != nil {
		return nil, err
	}
	return []RewardClaim{{Token: y.rewards.RewardTokenAddress(), Amount: amount}}, nil
}

var (
	_ Pricer        = (*YieldCollateral)(nil)
	_ RewardClaimer = (*YieldCollateral)(nil)
)
