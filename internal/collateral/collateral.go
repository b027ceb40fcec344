// Package collateral implements the valuation and default-detection engine:
// per-variant price recipes, the monotonic reference-rate invariant, and the
// SOUND/IFFY/DISABLED hysteresis state machine that decides whether a token
// may keep backing the stable asset.
package collateral

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateralwatch/internal/fixedpoint"
	"collateralwatch/internal/oracle"
)

// ErrUnpriced signals that no valid price is currently available. Distinct
// from DISABLED: an unpriced collateral may be priceable again later, a
// disabled one never recovers.
var ErrUnpriced = errors.New("collateral: price currently unavailable")

// PriceSample is one ephemeral pricing observation. Low and High bound the
// value per token after the oracle's stated error; PegPrice is the raw
// target-per-reference observation used only for peg comparison.
type PriceSample struct {
	Low      fixedpoint.Fix
	High     fixedpoint.Fix
	PegPrice fixedpoint.Fix
}

// Pricer is the capability set every collateral variant implements. The
// state machine is generic over it; there is exactly one state-machine
// implementation shared by all variants.
type Pricer interface {
	// TryPrice computes a fresh price sample. It fails with a taxonomy
	// error from the oracle package when no price can be computed.
	TryPrice(ctx context.Context, now time.Time) (PriceSample, error)
	// RefPerTok returns the reference units redeemable per token. An
	// error here is a malfunction, never a market condition.
	RefPerTok(ctx context.Context) (fixedpoint.Fix, error)
	// TargetPerRef returns the expected reference/target exchange rate.
	TargetPerRef() fixedpoint.Fix
}

// PoolChecker is implemented by pool-backed variants with stability
// conditions beyond the peg band.
type PoolChecker interface {
	PoolSound(ctx context.Context, now time.Time) (bool, error)
}

// RewardClaim reports one swept reward balance. Amount may legitimately
// be zero.
type RewardClaim struct {
	Token  common.Address
	Amount *big.Int
}

// RewardClaimer is implemented by variants whose wrapped token runs a
// reward program.
type RewardClaimer interface {
	ClaimRewards(ctx context.Context) ([]RewardClaim, error)
}

// StatusChange describes one status transition.
type StatusChange struct {
	Collateral  string
	Old         Status
	New         Status
	WhenDefault time.Time // zero when the new status is SOUND
	At          time.Time
}

// StatusListener receives status-change notifications. Called at most once
// per Refresh, only when the status actually changed.
type StatusListener interface {
	StatusChanged(ctx context.Context, change StatusChange)
}

// Collateral couples one price recipe with the default-detection state
// machine and exposes the read surface the basket layer consumes. The only
// state surviving across calls is (whenDefault, prevReferencePrice).
type Collateral struct {
	cfg      Config
	pricer   Pricer
	logger   zerolog.Logger
	now      func() time.Time
	listener StatusListener

	pegBottom fixedpoint.Fix
	pegTop    fixedpoint.Fix

	mu                 sync.Mutex
	whenDefault        int64
	prevReferencePrice fixedpoint.Fix
}

// New builds a collateral instance. Peg bounds are computed here, once, from
// the variant's target-per-reference rate; re-pegging requires a new
// instance, not mutation.
func New(cfg Config, pricer Pricer, logger zerolog.Logger) (*Collateral, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pricer == nil {
		return nil, errors.New("collateral: pricer required")
	}

	c := &Collateral{
		cfg:         cfg,
		pricer:      pricer,
		logger:      logger.With().Str("component", "collateral").Str("collateral", cfg.Name).Logger(),
		now:         time.Now,
		whenDefault: neverDefault,
	}

	if !cfg.DefaultThreshold.IsZero() {
		peg := pricer.TargetPerRef()
		delta := peg.Mul(cfg.DefaultThreshold)
		c.pegBottom = peg.Minus(delta)
		c.pegTop = peg.Plus(delta)
	}

	return c, nil
}

// SetStatusListener registers the transition listener. Call before the
// first Refresh.
func (c *Collateral) SetStatusListener(l StatusListener) { c.listener = l }

// Name returns the configured identifier.
func (c *Collateral) Name() string { return c.cfg.Name }

// TargetName returns the target unit identifier.
func (c *Collateral) TargetName() string { return c.cfg.TargetName }

// MaxTradeVolume returns the per-transaction value cap.
func (c *Collateral) MaxTradeVolume() decimal.Decimal { return c.cfg.MaxTradeVolume }

// OracleTimeout returns the feed staleness cutoff.
func (c *Collateral) OracleTimeout() time.Duration { return c.cfg.OracleTimeout }

// DelayUntilDefault returns the soft-default grace period.
func (c *Collateral) DelayUntilDefault() time.Duration { return c.cfg.DelayUntilDefault }

// IsCollateral always reports true.
func (c *Collateral) IsCollateral() bool { return true }

// TargetPerRef returns the expected reference/target exchange rate.
func (c *Collateral) TargetPerRef() fixedpoint.Fix { return c.pricer.TargetPerRef() }

// RefPerTok reads the current reference units per token.
func (c *Collateral) RefPerTok(ctx context.Context) (fixedpoint.Fix, error) {
	return c.pricer.RefPerTok(ctx)
}

// Status derives the current status from the stored deadline and the clock.
func (c *Collateral) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return statusAt(c.whenDefault, c.now())
}

// WhenDefault returns the scheduled or effective default time. ok is false
// while the collateral is sound.
func (c *Collateral) WhenDefault() (t time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.whenDefault == neverDefault {
		return time.Time{}, false
	}
	return time.Unix(c.whenDefault, 0).UTC(), true
}

// Price computes the current value-per-token bounds. It fails with
// ErrUnpriced when the price is temporarily unknown; callers must not read
// that as DISABLED, which is queryable via Status without failing.
func (c *Collateral) Price(ctx context.Context) (low, high fixedpoint.Fix, err error) {
	sample, err := c.pricer.TryPrice(ctx, c.now())
	if err != nil {
		if oracle.IsRecoverable(err) {
			return fixedpoint.Fix{}, fixedpoint.Fix{}, fmt.Errorf("%w: %v", ErrUnpriced, err)
		}
		return fixedpoint.Fix{}, fixedpoint.Fix{}, err
	}
	return sample.Low, sample.High, nil
}

// Refresh runs one atomic state transition: hard-default check against the
// reference rate, then the soft-default evaluation. Safe to call repeatedly
// and concurrently; duplicate execution converges on the same state. A
// malfunctioning read (empty revert data, transport failure) propagates and
// leaves all persisted state untouched.
func (c *Collateral) Refresh(ctx context.Context) error {
	c.mu.Lock()
	change, err := c.refreshLocked(ctx)
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if change != nil && c.listener != nil {
		c.listener.StatusChanged(ctx, *change)
	}
	return nil
}

func (c *Collateral) refreshLocked(ctx context.Context) (*StatusChange, error) {
	now := c.now()
	before := statusAt(c.whenDefault, now)
	if before == StatusDisabled {
		return nil, nil
	}

	rate, err := c.pricer.RefPerTok(ctx)
	if err != nil {
		return nil, fmt.Errorf("read reference rate: %w", err)
	}

	if rate.Lt(c.prevReferencePrice) {
		// The underlying claim itself lost value. No delay, no recovery.
		c.logger.Warn().
			Str("rate", rate.String()).
			Str("prev_rate", c.prevReferencePrice.String()).
			Msg("reference rate decreased; hard default")
		c.markStatus(StatusDisabled, now)
	} else if c.cfg.DefaultThreshold.IsZero() {
		c.markStatus(StatusSound, now)
	} else {
		next, err := c.evaluateSoftDefault(ctx, now)
		if err != nil {
			return nil, err
		}
		c.markStatus(next, now)
	}

	c.prevReferencePrice = rate

	after := statusAt(c.whenDefault, now)
	if after == before {
		return nil, nil
	}

	change := &StatusChange{
		Collateral: c.cfg.Name,
		Old:        before,
		New:        after,
		At:         now,
	}
	if c.whenDefault != neverDefault {
		change.WhenDefault = time.Unix(c.whenDefault, 0).UTC()
	}
	c.logger.Info().
		Stringer("old", before).
		Stringer("new", after).
		Time("when_default", change.WhenDefault).
		Msg("collateral status changed")
	return change, nil
}

// evaluateSoftDefault decides SOUND or IFFY from a fresh price sample. Any
// non-recoverable error propagates before any state is touched.
func (c *Collateral) evaluateSoftDefault(ctx context.Context, now time.Time) (Status, error) {
	sample, err := c.pricer.TryPrice(ctx, now)
	if err != nil {
		if !oracle.IsRecoverable(err) {
			return StatusSound, err
		}
		c.logger.Debug().Err(err).Msg("price unavailable; marking iffy")
		return StatusIffy, nil
	}

	if !c.pegOK(sample) {
		c.logger.Debug().
			Str("peg_price", sample.PegPrice.String()).
			Str("peg_bottom", c.pegBottom.String()).
			Str("peg_top", c.pegTop.String()).
			Msg("peg deviation; marking iffy")
		return StatusIffy, nil
	}

	if pc, ok := c.pricer.(PoolChecker); ok {
		sound, err := pc.PoolSound(ctx, now)
		if err != nil {
			if !oracle.IsRecoverable(err) {
				return StatusSound, err
			}
			sound = false
		}
		if !sound {
			c.logger.Debug().Msg("pool stability check failed; marking iffy")
			return StatusIffy, nil
		}
	}

	return StatusSound, nil
}

func (c *Collateral) pegOK(sample PriceSample) bool {
	if sample.Low.IsZero() {
		return false
	}
	return !sample.PegPrice.Lt(c.pegBottom) && !sample.PegPrice.Gt(c.pegTop)
}

// markStatus applies the whenDefault ratchet. A no-op once disabled; an
// IFFY observation never pushes an existing deadline further out, so
// flapping cannot postpone default indefinitely.
func (c *Collateral) markStatus(s Status, now time.Time) {
	if statusAt(c.whenDefault, now) == StatusDisabled {
		return
	}
	switch s {
	case StatusSound:
		c.whenDefault = neverDefault
	case StatusIffy:
		deadline := now.Add(c.cfg.DelayUntilDefault).Unix()
		if deadline < c.whenDefault {
			c.whenDefault = deadline
		}
	case StatusDisabled:
		c.whenDefault = now.Unix()
	}
}

// ClaimRewards sweeps the variant's reward program. Variants without one
// succeed as a no-op; callers depend on this never failing for that reason.
func (c *Collateral) ClaimRewards(ctx context.Context) ([]RewardClaim, error) {
	claimer, ok := c.pricer.(RewardClaimer)
	if !ok {
		return nil, nil
	}
	claims, err := claimer.ClaimRewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim rewards: %w", err)
	}
	for _, claim := range claims {
		c.logger.Info().
			Str("reward_token", claim.Token.Hex()).
			Str("amount", claim.Amount.String()).
			Msg("rewards swept")
	}
	return claims, nil
}
