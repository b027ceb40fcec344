package config

import (
	"testing"
	"time"
)

func validCollateral() CollateralConfig {
	return CollateralConfig{
		Name:              "usdc",
		Kind:              KindFiat,
		TargetName:        "USD",
		OracleTimeout:     time.Hour,
		OracleError:       0.0025,
		DefaultThreshold:  0.0125,
		DelayUntilDefault: 24 * time.Hour,
		Feed:              FeedConfig{Address: "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6", Decimals: 8},
	}
}

func TestCollateralValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CollateralConfig)
	}{
		{"missing_name", func(c *CollateralConfig) { c.Name = "" }},
		{"missing_target", func(c *CollateralConfig) { c.TargetName = "" }},
		{"zero_delay", func(c *CollateralConfig) { c.DelayUntilDefault = 0 }},
		{"zero_timeout", func(c *CollateralConfig) { c.OracleTimeout = 0 }},
		{"threshold_out_of_range", func(c *CollateralConfig) { c.DefaultThreshold = 1 }},
		{"unknown_kind", func(c *CollateralConfig) { c.Kind = "cdp" }},
		{"fiat_missing_feed", func(c *CollateralConfig) { c.Feed.Address = "" }},
		{"yield_missing_vault", func(c *CollateralConfig) { c.Kind = KindYield }},
		{"lp_missing_feeds", func(c *CollateralConfig) { c.Kind = KindLPPair; c.Pair.Address = "0x1" }},
		{"lp_bitmap_out_of_range", func(c *CollateralConfig) {
			c.Kind = KindLPPair
			c.Pair.Address = "0x3041CbD36888bECc7bbCBc0045E3B1f144466f5f"
			c.Feed0 = c.Feed
			c.Feed1 = c.Feed
			c.Pegged = 4
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cc := validCollateral()
			tc.mutate(&cc)
			if err := cc.Validate(); err == nil {
				t.Fatal("invalid collateral config should be rejected")
			}
		})
	}

	cc := validCollateral()
	if err := cc.Validate(); err != nil {
		t.Fatalf("valid collateral config rejected: %v", err)
	}
}

func TestConfigValidateRejectsDuplicateNames(t *testing.T) {
	cfg := &Config{
		Export:    ExportConfig{MaxDataPoints: 100},
		Scheduler: SchedulerConfig{Interval: time.Minute},
	}
	cfg.Collaterals = []CollateralConfig{validCollateral(), validCollateral()}
	if err := cfg.Validate(); err == nil {
		t.Fatal("duplicate collateral names should be rejected")
	}
}

func TestConfigValidateTelegram(t *testing.T) {
	cfg := &Config{
		Export:    ExportConfig{MaxDataPoints: 100},
		Scheduler: SchedulerConfig{Interval: time.Minute},
	}
	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled telegram without credentials should be rejected")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with defaults failed: %v", err)
	}
	if cfg.App.Name != "collateralwatch" {
		t.Fatalf("unexpected app name: %s", cfg.App.Name)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("unexpected default interval: %s", cfg.Scheduler.Interval)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("metrics should default to disabled")
	}
	if cfg.Metrics.ListenAddr != ":9464" {
		t.Fatalf("unexpected default metrics address: %s", cfg.Metrics.ListenAddr)
	}
}
