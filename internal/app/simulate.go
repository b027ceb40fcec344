package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateralwatch/internal/alerting"
	"collateralwatch/internal/collateral"
	"collateralwatch/internal/fixedpoint"
	"collateralwatch/internal/oracle"
)

// SimulateOptions script a synthetic price path through the detector.
type SimulateOptions struct {
	// Prices is the peg price at each step.
	Prices []decimal.Decimal
	// Rates optionally overrides refPerTok per step; missing entries
	// hold the previous value. Defaults to 1.
	Rates []decimal.Decimal
	// Threshold and Delay configure the synthetic collateral.
	Threshold decimal.Decimal
	Delay     time.Duration
	// Notify forwards transitions to the configured alert channel.
	Notify bool
}

// Simulate walks a synthetic collateral through a scripted price path and
// prints every status transition. Useful for validating thresholds and
// alert wiring without touching the chain.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if len(opts.Prices) == 0 {
		return errors.New("at least one price step is required")
	}

	feed := &oracle.StaticFeed{Price: opts.Prices[0], UpdatedAt: time.Now().UTC()}
	rate := &scriptedRate{rate: fixedpoint.One()}

	cfg := collateral.Config{
		Name:              "simulated",
		TargetName:        "USD",
		MaxTradeVolume:    decimal.NewFromInt(1_000_000),
		OracleTimeout:     time.Hour,
		OracleError:       fixedpoint.FromDecimal(decimal.RequireFromString("0.005")),
		DefaultThreshold:  fixedpoint.FromDecimal(opts.Threshold),
		DelayUntilDefault: opts.Delay,
	}
	pricer := collateral.NewYieldCollateral(collateral.YieldOptions{
		Feed:        feed,
		Rate:        rate,
		Timeout:     cfg.OracleTimeout,
		OracleError: cfg.OracleError,
	})
	c, err := collateral.New(cfg, pricer, a.Logger)
	if err != nil {
		return err
	}

	listener := &printingListener{out: os.Stdout}
	if opts.Notify {
		listener.notifier = a.newNotifier()
		if listener.notifier == nil {
			return errors.New("no alert channel configured")
		}
		listener.channels = a.Config.Alerting.Channels
		listener.logger = a.Logger
	}
	c.SetStatusListener(listener)

	for i, price := range opts.Prices {
		feed.Price = price
		feed.UpdatedAt = time.Now().UTC()
		if i < len(opts.Rates) {
			rate.rate = fixedpoint.FromDecimal(opts.Rates[i])
		}

		if err := c.Refresh(ctx); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		fmt.Fprintf(os.Stdout, "step %d: price=%s refPerTok=%s status=%s\n",
			i, price.String(), rate.rate.Decimal().String(), c.Status().String())
	}

	return nil
}

type scriptedRate struct {
	rate fixedpoint.Fix
}

func (s *scriptedRate) RefPerTok(context.Context) (fixedpoint.Fix, error) {
	return s.rate, nil
}

type printingListener struct {
	out      *os.File
	notifier alerting.Notifier
	channels []string
	logger   zerolog.Logger
}

func (l *printingListener) StatusChanged(ctx context.Context, change collateral.StatusChange) {
	line := fmt.Sprintf("transition: %s %s -> %s", change.Collateral, change.Old, change.New)
	if !change.WhenDefault.IsZero() {
		line += fmt.Sprintf(" (default at %s)", change.WhenDefault.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(l.out, line)

	if l.notifier == nil {
		return
	}
	note := alerting.Notification{
		Collateral: change.Collateral,
		OldStatus:  change.Old.String(),
		NewStatus:  change.New.String(),
		OccurredAt: change.At.UTC(),
		Channels:   l.channels,
	}
	if !change.WhenDefault.IsZero() {
		when := change.WhenDefault.UTC()
		note.WhenDefault = &when
	}
	if err := l.notifier.Notify(ctx, note); err != nil {
		l.logger.Error().Err(err).Msg("failed to dispatch simulated alert")
	}
}

var _ collateral.StatusListener = (*printingListener)(nil)
