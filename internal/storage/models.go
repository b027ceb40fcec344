package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollateralSample is one persisted per-bucket observation of a collateral.
type CollateralSample struct {
	Collateral  string
	Bucket      time.Time
	Low         decimal.Decimal
	High        decimal.Decimal
	RefPerTok   decimal.Decimal
	Status      string
	WhenDefault *time.Time
	Error       *string
	CreatedAt   time.Time
}

// StatusTransition is the append-only audit record of one status change.
type StatusTransition struct {
	ID          int64
	Collateral  string
	OldStatus   string
	NewStatus   string
	WhenDefault *time.Time
	OccurredAt  time.Time
	CreatedAt   time.Time
}
