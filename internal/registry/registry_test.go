package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateralwatch/internal/collateral"
	"collateralwatch/internal/fixedpoint"
	"collateralwatch/internal/oracle"
)

func fix(s string) fixedpoint.Fix {
	return fixedpoint.FromDecimal(decimal.RequireFromString(s))
}

func newFiat(t *testing.T, name string, feed oracle.Feed) *collateral.Collateral {
	t.Helper()
	c, err := collateral.New(collateral.Config{
		Name:              name,
		TargetName:        "USD",
		OracleTimeout:     time.Hour,
		OracleError:       fix("0.01"),
		DefaultThreshold:  fix("0.05"),
		DelayUntilDefault: 24 * time.Hour,
	}, collateral.NewFiatCollateral(feed, time.Hour, fix("0.01")), zerolog.Nop())
	if err != nil {
		t.Fatalf("construct collateral %s: %v", name, err)
	}
	return c
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := New(zerolog.Nop())
	feed := &oracle.StaticFeed{Price: decimal.NewFromInt(1), UpdatedAt: time.Now()}

	if err := reg.Register(newFiat(t, "usdc", feed)); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := reg.Register(newFiat(t, "usdc", feed)); err == nil {
		t.Fatal("duplicate name must be rejected")
	}
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	reg := New(zerolog.Nop())
	healthy := &oracle.StaticFeed{Price: decimal.NewFromInt(1), UpdatedAt: time.Now()}
	broken := &oracle.StaticFeed{Err: oracle.ErrRevertedNoReason}

	if err := reg.Register(newFiat(t, "broken", broken)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(newFiat(t, "usdc", healthy)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	results := reg.RefreshAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	if !errors.Is(results[0].Err, oracle.ErrRevertedNoReason) {
		t.Fatalf("broken collateral should report its failure, got %v", results[0].Err)
	}
	if results[1].Err != nil {
		t.Fatalf("healthy collateral should refresh despite its neighbour: %v", results[1].Err)
	}
	if results[1].Status != collateral.StatusSound {
		t.Fatalf("expected SOUND, got %s", results[1].Status)
	}
}

func TestClaimAllContinuesPastFailures(t *testing.T) {
	reg := New(zerolog.Nop())
	feed := &oracle.StaticFeed{Price: decimal.NewFromInt(1), UpdatedAt: time.Now()}

	if err := reg.Register(newFiat(t, "dai", feed)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(newFiat(t, "usdc", feed)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	results := reg.ClaimAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("claimer-less collateral %s must claim as a no-op: %v", res.Collateral, res.Err)
		}
		if len(res.Claims) != 0 {
			t.Fatalf("expected no claims for %s", res.Collateral)
		}
	}
}

func TestCollateralsOrdered(t *testing.T) {
	reg := New(zerolog.Nop())
	feed := &oracle.StaticFeed{Price: decimal.NewFromInt(1), UpdatedAt: time.Now()}
	for _, name := range []string{"usdc", "dai", "lp-dai-usdc"} {
		if err := reg.Register(newFiat(t, name, feed)); err != nil {
			t.Fatalf("register %s failed: %v", name, err)
		}
	}

	got := reg.Collaterals()
	want := []string{"dai", "lp-dai-usdc", "usdc"}
	for i, c := range got {
		if c.Name() != want[i] {
			t.Fatalf("expected %s at index %d, got %s", want[i], i, c.Name())
		}
	}
}
