package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Durations are
// stored as milliseconds, the parameter snapshot as JSONB.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `position_id, symbol, opened_at, closed_at,
	final_pnl, total_duration_ms,
	pair_exit_reason, pair_duration_ms, pair_pnl,
	failover_exit_reason, failover_duration_ms, failover_pnl, params`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var (
			r          domain.TradeRecord
			closedAt   *time.Time
			totalMs    int64
			pairMs     int64
			failoverMs int64
		)
		if err := rows.Scan(
			&r.PositionID, &r.Symbol, &r.OpenedAt, &closedAt,
			&r.FinalPnl, &totalMs,
			&r.PairExitReason, &pairMs, &r.PairPnl,
			&r.FailoverExitReason, &failoverMs, &r.FailoverPnl, &r.Params,
		); err != nil {
			return nil, err
		}
		if closedAt != nil {
			r.ClosedAt = *closedAt
		}
		r.TotalDuration = time.Duration(totalMs) * time.Millisecond
		r.PairDuration = time.Duration(pairMs) * time.Millisecond
		r.FailoverDuration = time.Duration(failoverMs) * time.Millisecond
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// RecordOpen inserts a row for a freshly opened position. Re-inserting the
// same position ID is a no-op so crash-replays do not duplicate rows.
func (s *TradeStore) RecordOpen(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (position_id, symbol, opened_at, params)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (position_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query,
		rec.PositionID, rec.Symbol, rec.OpenedAt, rec.Params,
	); err != nil {
		return fmt.Errorf("postgres: record open %s: %w", rec.PositionID, err)
	}
	return nil
}

// RecordClose fills in the outcome columns of an existing row.
func (s *TradeStore) RecordClose(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		UPDATE trades SET
			closed_at = $2,
			final_pnl = $3,
			total_duration_ms = $4,
			pair_exit_reason = $5,
			pair_duration_ms = $6,
			pair_pnl = $7,
			failover_exit_reason = $8,
			failover_duration_ms = $9,
			failover_pnl = $10
		WHERE position_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		rec.PositionID, rec.ClosedAt,
		rec.FinalPnl, rec.TotalDuration.Milliseconds(),
		rec.PairExitReason, rec.PairDuration.Milliseconds(), rec.PairPnl,
		rec.FailoverExitReason, rec.FailoverDuration.Milliseconds(), rec.FailoverPnl,
	)
	if err != nil {
		return fmt.Errorf("postgres: record close %s: %w", rec.PositionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: record close %s: %w", rec.PositionID, domain.ErrNotFound)
	}
	return nil
}

// ListBefore returns all closed trades with closed_at strictly before the
// given time, oldest first (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades
		WHERE closed_at IS NOT NULL AND closed_at < $1
		ORDER BY closed_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return recs, nil
}

// DeleteBefore deletes all closed trades with closed_at before the given
// time. Returns the number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE closed_at IS NOT NULL AND closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
