package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"collateralwatch/internal/alerting"
	"collateralwatch/internal/collateral"
	"collateralwatch/internal/config"
	"collateralwatch/internal/metrics"
	"collateralwatch/internal/registry"
	"collateralwatch/internal/scheduler"
	"collateralwatch/internal/storage"
)

// Service orchestrates refreshing, persistence, and alerting.
type Service struct {
	scheduler   *scheduler.Scheduler
	registry    *registry.Registry
	store       storage.SampleStore
	transitions storage.TransitionStore
	notifier    alerting.Notifier
	recorder    *metrics.Recorder
	logger      zerolog.Logger

	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the monitoring service and registers it as the status
// listener on every collateral in the basket.
func New(cfg *config.Config, sched *scheduler.Scheduler, reg *registry.Registry, store storage.SampleStore, transitions storage.TransitionStore, notifier alerting.Notifier, recorder *metrics.Recorder, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	s := &Service{
		scheduler:   sched,
		registry:    reg,
		store:       store,
		transitions: transitions,
		notifier:    notifier,
		recorder:    recorder,
		logger:      logger.With().Str("component", "service").Logger(),
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}

	for _, c := range reg.Collaterals() {
		c.SetStatusListener(s)
	}
	return s
}

// Run begins the aligned refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket refreshes the whole basket for one time bucket.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	results := s.registry.RefreshAll(ctx)

	for _, res := range results {
		c, ok := s.registry.Get(res.Collateral)
		if !ok {
			continue
		}
		sample := s.sampleFor(ctx, c, res, bucket)
		if s.store != nil {
			if err := s.store.UpsertSample(ctx, sample); err != nil {
				s.logger.Error().Err(err).Str("collateral", res.Collateral).Time("bucket", bucket).Msg("failed to upsert sample")
			}
		}
		if s.recorder != nil {
			outcome := "ok"
			if res.Err != nil {
				outcome = "error"
			}
			s.recorder.RecordRefresh(res.Collateral, outcome)
			s.recorder.RecordStatus(res.Collateral, int(c.Status()))
		}
	}

	for _, res := range s.registry.ClaimAll(ctx) {
		for _, claim := range res.Claims {
			s.logger.Info().
				Str("collateral", res.Collateral).
				Str("token", claim.Token.Hex()).
				Str("amount", claim.Amount.String()).
				Msg("rewards accrued")
		}
	}

	s.logger.Info().Time("bucket", bucket).Int("collaterals", len(results)).Msg("bucket processed")
	return nil
}

// sampleFor snapshots one collateral after a refresh pass. Price failures
// are recorded on the row rather than aborting the bucket.
func (s *Service) sampleFor(ctx context.Context, c *collateral.Collateral, res registry.RefreshResult, bucket time.Time) storage.CollateralSample {
	sample := storage.CollateralSample{
		Collateral: res.Collateral,
		Bucket:     bucket,
		Status:     c.Status().String(),
		CreatedAt:  time.Now().UTC(),
	}
	if when, ok := c.WhenDefault(); ok {
		sample.WhenDefault = &when
	}
	if res.Err != nil {
		msg := res.Err.Error()
		sample.Error = &msg
		return sample
	}

	start := time.Now()
	low, high, err := c.Price(ctx)
	if s.recorder != nil {
		s.recorder.RecordFeedLatency("price", time.Since(start).Seconds())
	}
	if err != nil {
		if !errors.Is(err, collateral.ErrUnpriced) {
			s.logger.Error().Err(err).Str("collateral", res.Collateral).Msg("price read failed")
		}
		msg := err.Error()
		sample.Error = &msg
	} else {
		sample.Low = low.Decimal()
		sample.High = high.Decimal()
	}

	if rate, rateErr := c.RefPerTok(ctx); rateErr == nil {
		sample.RefPerTok = rate.Decimal()
	}
	return sample
}

// StatusChanged persists the transition and dispatches an alert. It runs
// on the refresh path, so failures are logged and never propagated.
func (s *Service) StatusChanged(ctx context.Context, change collateral.StatusChange) {
	s.logger.Warn().
		Str("collateral", change.Collateral).
		Str("old", change.Old.String()).
		Str("new", change.New.String()).
		Msg("collateral status changed")

	var whenDefault *time.Time
	if !change.WhenDefault.IsZero() {
		when := change.WhenDefault.UTC()
		whenDefault = &when
	}

	if s.transitions != nil {
		record := storage.StatusTransition{
			Collateral:  change.Collateral,
			OldStatus:   change.Old.String(),
			NewStatus:   change.New.String(),
			WhenDefault: whenDefault,
			OccurredAt:  change.At.UTC(),
		}
		if _, err := s.transitions.InsertTransition(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("collateral", change.Collateral).Msg("failed to persist status transition")
		}
	}

	if !s.alertsOn || s.notifier == nil {
		return
	}

	note := alerting.Notification{
		Collateral:  change.Collateral,
		OldStatus:   change.Old.String(),
		NewStatus:   change.New.String(),
		WhenDefault: whenDefault,
		OccurredAt:  change.At.UTC(),
		Channels:    s.channels,
	}
	if c, ok := s.registry.Get(change.Collateral); ok {
		if low, high, err := c.Price(ctx); err == nil {
			note.PriceLow = low.Decimal()
			note.PriceHigh = high.Decimal()
		}
		if rate, err := c.RefPerTok(ctx); err == nil {
			note.RefPerTok = rate.Decimal()
		}
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("collateral", change.Collateral).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

var _ collateral.StatusListener = (*Service)(nil)
