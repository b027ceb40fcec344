// Package oracle wraps external price feeds and classifies their failures.
// Staleness and non-positive answers are market conditions the state machine
// reacts to; a revert with empty data is a malfunction that must propagate,
// since swallowing it would let an attacker force SOUND status by making a
// feed panic.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"collateralwatch/internal/fixedpoint"
)

var (
	// ErrRevertedNoReason marks a feed call that reverted with empty data,
	// including out-of-gas. Fatal to the current call; never absorbed into
	// a status transition.
	ErrRevertedNoReason = errors.New("oracle: feed reverted with no data")

	// ErrStalePrice marks an answer older than the configured timeout.
	ErrStalePrice = errors.New("oracle: stale price")

	// ErrNonPositivePrice marks a zero or negative answer.
	ErrNonPositivePrice = errors.New("oracle: non-positive price")
)

// RevertError carries the diagnostic message of a feed revert.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("oracle: feed reverted: %s", e.Reason)
}

// IsRecoverable reports whether err is a market condition (stale answer,
// non-positive answer, revert with a diagnostic message) rather than a
// malfunction. Recoverable failures drive the state machine; everything
// else is fatal to the current call.
func IsRecoverable(err error) bool {
	if errors.Is(err, ErrStalePrice) || errors.Is(err, ErrNonPositivePrice) {
		return true
	}
	var re *RevertError
	return errors.As(err, &re)
}

// Feed reads the most recent round of one external price feed. The returned
// price is scaled to 18 fractional digits.
type Feed interface {
	LatestRound(ctx context.Context) (price fixedpoint.Fix, updatedAt time.Time, err error)
}

// Read fetches feed's latest answer and validates it against timeout as of
// now. It returns the price or exactly one taxonomy error; the caller's own
// state is never touched by a feed failure.
func Read(ctx context.Context, feed Feed, timeout time.Duration, now time.Time) (fixedpoint.Fix, error) {
	price, updatedAt, err := feed.LatestRound(ctx)
	if err != nil {
		return fixedpoint.Fix{}, err
	}
	if timeout > 0 && now.Sub(updatedAt) > timeout {
		return fixedpoint.Fix{}, fmt.Errorf("%w: updated %s ago, timeout %s",
			ErrStalePrice, now.Sub(updatedAt).Truncate(time.Second), timeout)
	}
	if price.Sign() <= 0 {
		return fixedpoint.Fix{}, ErrNonPositivePrice
	}
	return price, nil
}

// StaticFeed serves a fixed observation. Used by the simulate command and
// in tests.
type StaticFeed struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
	Err       error
}

// LatestRound returns the configured observation.
func (s *StaticFeed) LatestRound(context.Context) (fixedpoint.Fix, time.Time, error) {
	if s.Err != nil {
		return fixedpoint.Fix{}, time.Time{}, s.Err
	}
	return fixedpoint.FromDecimal(s.Price), s.UpdatedAt, nil
}

var _ Feed = (*StaticFeed)(nil)
