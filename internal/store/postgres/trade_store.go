package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. The slug column
// is unique, so a window holds at most one paper trade.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, intent_id, slug, asset, cadence, direction, token_id,
	price, size, reason, status, pnl, created_at, settled_at`

func scanTradeRows(rows pgx.Rows) ([]domain.PaperTrade, error) {
	defer rows.Close()

	var trades []domain.PaperTrade
	for rows.Next() {
		var (
			t         domain.PaperTrade
			cadence   string
			direction string
			status    string
			settledAt *time.Time
		)
		if err := rows.Scan(
			&t.ID, &t.IntentID, &t.Slug, &t.Asset, &cadence, &direction, &t.TokenID,
			&t.Price, &t.Size, &t.Reason, &status, &t.PnL, &t.CreatedAt, &settledAt,
		); err != nil {
			return nil, err
		}
		dir, err := domain.ParseRole(direction)
		if err != nil {
			return nil, err
		}
		t.Cadence = domain.Cadence(cadence)
		t.Direction = dir
		t.Status = domain.PaperTradeStatus(status)
		t.SettledAt = settledAt
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert records a new paper trade. A second trade for the same slug returns
// domain.ErrAlreadyExists.
func (s *TradeStore) Insert(ctx context.Context, t domain.PaperTrade) error {
	const query = `
		INSERT INTO paper_trades (
			id, intent_id, slug, asset, cadence, direction, token_id,
			price, size, reason, status, pnl, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.IntentID, t.Slug, t.Asset, string(t.Cadence), t.Direction.String(), t.TokenID,
		t.Price, t.Size, t.Reason, string(t.Status), t.PnL, createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert paper trade %q: %w", t.Slug, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert paper trade %q: %w", t.Slug, err)
	}
	return nil
}

// ExistsForSlug reports whether a trade was recorded for slug.
func (s *TradeStore) ExistsForSlug(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM paper_trades WHERE slug = $1)", slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: paper trade exists %q: %w", slug, err)
	}
	return exists, nil
}

// ListOpen returns trades awaiting settlement, oldest first.
func (s *TradeStore) ListOpen(ctx context.Context) ([]domain.PaperTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM paper_trades WHERE status = 'open' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open paper trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open paper trades: %w", err)
	}
	return trades, nil
}

// ListOpenSlugs returns the slugs of open trades.
func (s *TradeStore) ListOpenSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT slug FROM paper_trades WHERE status = 'open'")
	if err != nil {
		return nil, fmt.Errorf("postgres: list open slugs: %w", err)
	}
	slugs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open slugs: %w", err)
	}
	return slugs, nil
}

// UpdateSettlement stores the status, P&L and settlement time of t.
func (s *TradeStore) UpdateSettlement(ctx context.Context, t domain.PaperTrade) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE paper_trades SET status = $2, pnl = $3, settled_at = $4 WHERE id = $1`,
		t.ID, string(t.Status), t.PnL, t.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle paper trade %q: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settle paper trade %q: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns trades newest first with pagination and optional time
// filtering.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM paper_trades WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent paper trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent paper trades: %w", err)
	}
	return trades, nil
}
