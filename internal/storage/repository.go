package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSampleSQL = `INSERT INTO collateral_samples (
        collateral,
        bucket_ts,
        price_low,
        price_high,
        ref_per_tok,
        status,
        when_default,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (collateral, bucket_ts) DO UPDATE
    SET
        price_low    = EXCLUDED.price_low,
        price_high   = EXCLUDED.price_high,
        ref_per_tok  = EXCLUDED.ref_per_tok,
        status       = EXCLUDED.status,
        when_default = EXCLUDED.when_default,
        error        = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        collateral,
        bucket_ts,
        price_low,
        price_high,
        ref_per_tok,
        status,
        when_default,
        error,
        created_at
    FROM collateral_samples
    WHERE collateral = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        collateral,
        bucket_ts,
        price_low,
        price_high,
        ref_per_tok,
        status,
        when_default,
        error,
        created_at
    FROM collateral_samples
    ORDER BY bucket_ts DESC, collateral
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM collateral_samples;`

	insertTransitionSQL = `INSERT INTO status_transitions (
        collateral,
        old_status,
        new_status,
        when_default,
        occurred_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, collateral, old_status, new_status, when_default, occurred_at, created_at;`

	listRecentTransitionsSQL = `SELECT
        id,
        collateral,
        old_status,
        new_status,
        when_default,
        occurred_at,
        created_at
    FROM status_transitions
    ORDER BY occurred_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations for collateral sample persistence.
type SampleStore interface {
	UpsertSample(ctx context.Context, sample CollateralSample) error
	ListSamplesBetween(ctx context.Context, collateral string, from, to time.Time) ([]CollateralSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]CollateralSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// TransitionStore defines operations for the status-change audit trail.
type TransitionStore interface {
	InsertTransition(ctx context.Context, transition StatusTransition) (StatusTransition, error)
	ListRecentTransitions(ctx context.Context, limit int) ([]StatusTransition, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples and transitions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSample persists or updates one collateral observation.
func (s *Store) UpsertSample(ctx context.Context, sample CollateralSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var whenDefault interface{}
	if sample.WhenDefault != nil {
		whenDefault = *sample.WhenDefault
	}
	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertSampleSQL,
		sample.Collateral,
		sample.Bucket,
		sample.Low.String(),
		sample.High.String(),
		sample.RefPerTok.String(),
		sample.Status,
		whenDefault,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert collateral sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists one collateral's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, collateral string, from, to time.Time) ([]CollateralSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, collateral, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]CollateralSample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples across the basket.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]CollateralSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]CollateralSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertTransition appends one status change to the audit trail.
func (s *Store) InsertTransition(ctx context.Context, transition StatusTransition) (StatusTransition, error) {
	pool, err := s.getPool()
	if err != nil {
		return StatusTransition{}, err
	}

	var whenDefault interface{}
	if transition.WhenDefault != nil {
		whenDefault = *transition.WhenDefault
	}

	row := pool.QueryRow(ctx, insertTransitionSQL,
		transition.Collateral,
		transition.OldStatus,
		transition.NewStatus,
		whenDefault,
		transition.OccurredAt,
	)

	rec, scanErr := scanTransition(row)
	if scanErr != nil {
		return StatusTransition{}, fmt.Errorf("insert transition: %w", scanErr)
	}
	return rec, nil
}

// ListRecentTransitions lists most recent status changes.
func (s *Store) ListRecentTransitions(ctx context.Context, limit int) ([]StatusTransition, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTransitionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent transitions: %w", queryErr)
	}
	defer rows.Close()

	transitions := make([]StatusTransition, 0, limit)
	for rows.Next() {
		rec, scanErr := scanTransition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		transitions = append(transitions, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return transitions, nil
}

func scanSample(row pgx.Row) (CollateralSample, error) {
	var (
		sample      CollateralSample
		lowStr      string
		highStr     string
		rateStr     string
		whenDefault sql.NullTime
		errMsg      sql.NullString
	)

	if err := row.Scan(
		&sample.Collateral,
		&sample.Bucket,
		&lowStr,
		&highStr,
		&rateStr,
		&sample.Status,
		&whenDefault,
		&errMsg,
		&sample.CreatedAt,
	); err != nil {
		return CollateralSample{}, err
	}

	var convErr error
	if sample.Low, convErr = decimal.NewFromString(lowStr); convErr != nil {
		return CollateralSample{}, fmt.Errorf("parse price low: %w", convErr)
	}
	if sample.High, convErr = decimal.NewFromString(highStr); convErr != nil {
		return CollateralSample{}, fmt.Errorf("parse price high: %w", convErr)
	}
	if sample.RefPerTok, convErr = decimal.NewFromString(rateStr); convErr != nil {
		return CollateralSample{}, fmt.Errorf("parse ref per tok: %w", convErr)
	}

	if whenDefault.Valid {
		value := whenDefault.Time
		sample.WhenDefault = &value
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}
	return sample, nil
}

func scanTransition(row pgx.Row) (StatusTransition, error) {
	var (
		rec         StatusTransition
		whenDefault sql.NullTime
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Collateral,
		&rec.OldStatus,
		&rec.NewStatus,
		&whenDefault,
		&rec.OccurredAt,
		&rec.CreatedAt,
	); err != nil {
		return StatusTransition{}, err
	}

	if whenDefault.Valid {
		value := whenDefault.Time
		rec.WhenDefault = &value
	}
	return rec, nil
}
