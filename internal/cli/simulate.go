package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"collateralwatch/internal/app"
)

var (
	simulatePrices    string
	simulateRates     string
	simulateThreshold float64
	simulateDelay     time.Duration
	simulateNotify    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Walk a synthetic collateral through a scripted price path",
	RunE: func(cmd *cobra.Command, args []string) error {
		prices, err := parseDecimalList(simulatePrices)
		if err != nil {
			return fmt.Errorf("invalid --prices value: %w", err)
		}
		if len(prices) == 0 {
			return fmt.Errorf("--prices must list at least one step")
		}
		rates, err := parseDecimalList(simulateRates)
		if err != nil {
			return fmt.Errorf("invalid --rates value: %w", err)
		}
		if simulateThreshold <= 0 || simulateThreshold >= 1 {
			return fmt.Errorf("--threshold must be in (0, 1)")
		}

		opts := app.SimulateOptions{
			Prices:    prices,
			Rates:     rates,
			Threshold: decimal.NewFromFloat(simulateThreshold),
			Delay:     simulateDelay,
			Notify:    simulateNotify,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func parseDecimalList(raw string) ([]decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, part := range parts {
		d, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrices, "prices", "", "Comma-separated peg price per step")
	simulateCmd.Flags().StringVar(&simulateRates, "rates", "", "Comma-separated refPerTok per step (optional)")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0.05, "Peg deviation threshold")
	simulateCmd.Flags().DurationVar(&simulateDelay, "delay", 24*time.Hour, "Delay until default")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "Dispatch transitions to the configured alert channel")
}
