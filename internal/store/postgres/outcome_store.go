package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates a new OutcomeStore backed by the given connection
// pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

const outcomeSelectCols = `slug, asset, cadence, window_start, winner,
	start_price, end_price, source, resolved_at`

func scanOutcome(row pgx.Row) (domain.SettlementOutcome, error) {
	var (
		o       domain.SettlementOutcome
		cadence string
		winner  string
	)
	if err := row.Scan(
		&o.Slug, &o.Asset, &cadence, &o.WindowStart, &winner,
		&o.StartPrice, &o.EndPrice, &o.Source, &o.ResolvedAt,
	); err != nil {
		return o, err
	}
	w, err := domain.ParseRole(winner)
	if err != nil {
		return o, err
	}
	o.Cadence = domain.Cadence(cadence)
	o.Winner = w
	return o, nil
}

// Upsert records an outcome. The first resolution of a slug wins; a later
// one returns domain.ErrAlreadyExists.
func (s *OutcomeStore) Upsert(ctx context.Context, o domain.SettlementOutcome) error {
	const query = `
		INSERT INTO market_outcomes (
			slug, asset, cadence, window_start, winner,
			start_price, end_price, source, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (slug) DO NOTHING`

	resolvedAt := o.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, query,
		o.Slug, o.Asset, string(o.Cadence), o.WindowStart, o.Winner.String(),
		o.StartPrice, o.EndPrice, o.Source, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert outcome %q: %w", o.Slug, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: upsert outcome %q: %w", o.Slug, domain.ErrAlreadyExists)
	}
	return nil
}

// GetBySlug returns the outcome of one window.
func (s *OutcomeStore) GetBySlug(ctx context.Context, slug string) (domain.SettlementOutcome, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+outcomeSelectCols+` FROM market_outcomes WHERE slug = $1`, slug)
	o, err := scanOutcome(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, fmt.Errorf("postgres: outcome %q: %w", slug, domain.ErrNotFound)
		}
		return o, fmt.Errorf("postgres: outcome %q: %w", slug, err)
	}
	return o, nil
}

// ListRecent returns up to limit outcomes of asset and cadence whose window
// started before the given time, newest first.
func (s *OutcomeStore) ListRecent(ctx context.Context, asset string, cadence domain.Cadence, before time.Time, limit int) ([]domain.SettlementOutcome, error) {
	if limit <= 0 {
		limit = 32
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+outcomeSelectCols+` FROM market_outcomes
		 WHERE asset = $1 AND cadence = $2 AND window_start < $3
		 ORDER BY window_start DESC LIMIT $4`,
		asset, string(cadence), before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
