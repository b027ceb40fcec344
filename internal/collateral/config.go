package collateral

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"collateralwatch/internal/fixedpoint"
)

// Config is the immutable construction-time parameterisation of one
// collateral instance.
type Config struct {
	// Name identifies the collateral in logs, storage, and alerts.
	Name string
	// TargetName is the unit of account the reference asset should track.
	TargetName string
	// MaxTradeVolume caps the tradeable value per transaction, in units
	// of account.
	MaxTradeVolume decimal.Decimal
	// OracleTimeout is the staleness cutoff for feed answers.
	OracleTimeout time.Duration
	// OracleError is the feed's stated relative uncertainty, in (0, 1).
	OracleError fixedpoint.Fix
	// DefaultThreshold is the tolerated peg deviation fraction. Zero
	// disables soft-default checking entirely.
	DefaultThreshold fixedpoint.Fix
	// DelayUntilDefault is how long an IFFY condition may persist before
	// the collateral defaults.
	DelayUntilDefault time.Duration
}

// Validate rejects invalid configurations before any object is created.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("collateral: name required")
	}
	if c.TargetName == "" {
		return errors.New("collateral: target name required")
	}
	if c.DelayUntilDefault <= 0 {
		return errors.New("collateral: delay until default must be positive")
	}
	if c.OracleTimeout <= 0 {
		return errors.New("collateral: oracle timeout must be positive")
	}
	one := fixedpoint.One()
	if c.OracleError.Sign() < 0 || !c.OracleError.Lt(one) {
		return fmt.Errorf("collateral: oracle error %s outside [0, 1)", c.OracleError)
	}
	if c.DefaultThreshold.Sign() < 0 || !c.DefaultThreshold.Lt(one) {
		return fmt.Errorf("collateral: default threshold %s outside [0, 1)", c.DefaultThreshold)
	}
	return nil
}
