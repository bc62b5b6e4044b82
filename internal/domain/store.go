package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists paper trades recorded by the executor.
type TradeStore interface {
	Insert(ctx context.Context, trade PaperTrade) error
	ExistsForSlug(ctx context.Context, slug string) (bool, error)
	ListOpen(ctx context.Context) ([]PaperTrade, error)
	ListOpenSlugs(ctx context.Context) ([]string, error)
	UpdateSettlement(ctx context.Context, trade PaperTrade) error
	ListRecent(ctx context.Context, opts ListOpts) ([]PaperTrade, error)
}

// OutcomeStore persists resolved window outcomes.
type OutcomeStore interface {
	Upsert(ctx context.Context, outcome SettlementOutcome) error
	GetBySlug(ctx context.Context, slug string) (SettlementOutcome, error)
	ListRecent(ctx context.Context, asset string, cadence Cadence, before time.Time, limit int) ([]SettlementOutcome, error)
}
