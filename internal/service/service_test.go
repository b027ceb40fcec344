package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateralwatch/internal/alerting"
	"collateralwatch/internal/collateral"
	"collateralwatch/internal/config"
	"collateralwatch/internal/fixedpoint"
	"collateralwatch/internal/oracle"
	"collateralwatch/internal/registry"
	"collateralwatch/internal/storage"
)

type scriptedPricer struct {
	mu    sync.Mutex
	peg   fixedpoint.Fix
	rate  fixedpoint.Fix
	fail  error
	width fixedpoint.Fix
}

func newScriptedPricer() *scriptedPricer {
	return &scriptedPricer{
		peg:   fixedpoint.One(),
		rate:  fixedpoint.One(),
		width: fixedpoint.FromDecimal(decimal.RequireFromString("0.01")),
	}
}

func (p *scriptedPricer) setPeg(v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peg = fixedpoint.FromDecimal(decimal.RequireFromString(v))
}

func (p *scriptedPricer) setFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *scriptedPricer) TryPrice(ctx context.Context, now time.Time) (collateral.PriceSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return collateral.PriceSample{}, p.fail
	}
	return collateral.PriceSample{
		Low:      p.peg.Minus(p.width),
		High:     p.peg.Plus(p.width),
		PegPrice: p.peg,
	}, nil
}

func (p *scriptedPricer) RefPerTok(ctx context.Context) (fixedpoint.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate, nil
}

func (p *scriptedPricer) TargetPerRef() fixedpoint.Fix { return fixedpoint.One() }

type sampleRecorder struct {
	mu      sync.Mutex
	samples []storage.CollateralSample
}

func (r *sampleRecorder) UpsertSample(ctx context.Context, sample storage.CollateralSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
	return nil
}

func (r *sampleRecorder) ListSamplesBetween(ctx context.Context, collateral string, from, to time.Time) ([]storage.CollateralSample, error) {
	return nil, nil
}

func (r *sampleRecorder) ListRecentSamples(ctx context.Context, limit int) ([]storage.CollateralSample, error) {
	return nil, nil
}

func (r *sampleRecorder) CountSamples(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.samples)), nil
}

type transitionRecorder struct {
	mu      sync.Mutex
	records []storage.StatusTransition
}

func (r *transitionRecorder) InsertTransition(ctx context.Context, transition storage.StatusTransition) (storage.StatusTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transition.ID = int64(len(r.records) + 1)
	r.records = append(r.records, transition)
	return transition, nil
}

func (r *transitionRecorder) ListRecentTransitions(ctx context.Context, limit int) ([]storage.StatusTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.StatusTransition(nil), r.records...), nil
}

type stubNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *stubNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func newTestService(t *testing.T, pricer collateral.Pricer) (*Service, *sampleRecorder, *transitionRecorder, *stubNotifier) {
	t.Helper()

	cfg := collateral.Config{
		Name:              "usdc",
		TargetName:        "USD",
		MaxTradeVolume:    decimal.NewFromInt(1_000_000),
		OracleTimeout:     time.Hour,
		OracleError:       fixedpoint.FromDecimal(decimal.RequireFromString("0.005")),
		DefaultThreshold:  fixedpoint.FromDecimal(decimal.RequireFromString("0.05")),
		DelayUntilDefault: 24 * time.Hour,
	}
	c, err := collateral.New(cfg, pricer, zerolog.Nop())
	if err != nil {
		t.Fatalf("build collateral: %v", err)
	}

	reg := registry.New(zerolog.Nop())
	if err := reg.Register(c); err != nil {
		t.Fatalf("register collateral: %v", err)
	}

	appCfg := &config.Config{}
	appCfg.Alerting.Enabled = true
	appCfg.Alerting.Channels = []string{"telegram"}

	samples := &sampleRecorder{}
	transitions := &transitionRecorder{}
	notifier := &stubNotifier{}
	svc := New(appCfg, nil, reg, samples, transitions, notifier, nil, zerolog.Nop())
	return svc, samples, transitions, notifier
}

func TestProcessBucketPersistsSamples(t *testing.T) {
	svc, samples, transitions, notifier := newTestService(t, newScriptedPricer())

	bucket := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := svc.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("process bucket: %v", err)
	}

	if len(samples.samples) != 1 {
		t.Fatalf("expected one sample, got %d", len(samples.samples))
	}
	sample := samples.samples[0]
	if sample.Collateral != "usdc" {
		t.Fatalf("unexpected collateral: %s", sample.Collateral)
	}
	if sample.Status != "SOUND" {
		t.Fatalf("healthy refresh should record SOUND, got %s", sample.Status)
	}
	if sample.Error != nil {
		t.Fatalf("healthy refresh should carry no error: %s", *sample.Error)
	}
	if sample.Low.IsZero() || sample.High.IsZero() {
		t.Fatalf("price band should be populated: low=%s high=%s", sample.Low, sample.High)
	}
	if !sample.RefPerTok.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected refPerTok: %s", sample.RefPerTok)
	}
	if len(transitions.records) != 0 || len(notifier.notes) != 0 {
		t.Fatal("stable inputs should produce no transitions or alerts")
	}
}

func TestStatusChangePersistedAndAlerted(t *testing.T) {
	pricer := newScriptedPricer()
	svc, samples, transitions, notifier := newTestService(t, pricer)

	bucket := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pricer.setPeg("0.90")
	if err := svc.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("process bucket: %v", err)
	}

	if len(transitions.records) != 1 {
		t.Fatalf("expected one transition, got %d", len(transitions.records))
	}
	rec := transitions.records[0]
	if rec.OldStatus != "SOUND" || rec.NewStatus != "IFFY" {
		t.Fatalf("unexpected transition %s -> %s", rec.OldStatus, rec.NewStatus)
	}
	if rec.WhenDefault == nil {
		t.Fatal("iffy transition should carry a default deadline")
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected one alert, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Collateral != "usdc" || note.NewStatus != "IFFY" {
		t.Fatalf("unexpected notification: %+v", note)
	}

	if len(samples.samples) != 1 {
		t.Fatalf("expected one sample, got %d", len(samples.samples))
	}
	if samples.samples[0].Status != "IFFY" {
		t.Fatalf("sample should record IFFY, got %s", samples.samples[0].Status)
	}
}

func TestOracleRevertRecordedOnSample(t *testing.T) {
	pricer := newScriptedPricer()
	svc, samples, _, _ := newTestService(t, pricer)

	pricer.setFailure(oracle.ErrStalePrice)
	bucket := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	if err := svc.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("process bucket: %v", err)
	}

	if len(samples.samples) != 1 {
		t.Fatalf("expected one sample, got %d", len(samples.samples))
	}
	sample := samples.samples[0]
	if sample.Status != "IFFY" {
		t.Fatalf("stale oracle should record IFFY, got %s", sample.Status)
	}
	if sample.Error == nil {
		t.Fatal("unpriced sample should carry the error text")
	}
}

func TestRunWithoutSchedulerFails(t *testing.T) {
	svc, _, _, _ := newTestService(t, newScriptedPricer())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("run without scheduler should fail")
	}
}
