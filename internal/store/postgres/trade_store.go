package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert persists a closed trade. Replays of an already-persisted position
// are silently skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) Insert(ctx context.Context, t domain.ClosedTrade) error {
	const query = `
		INSERT INTO trades (
			position_id, instrument_id, direction,
			entry_price, exit_price, size, pnl, reason,
			opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (position_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.PositionID, t.InstrumentID, string(t.Direction),
		t.EntryPrice, t.ExitPrice, t.Size, t.PnL, string(t.Reason),
		t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.PositionID, err)
	}
	return nil
}

const tradeSelectCols = `position_id, instrument_id, direction,
	entry_price, exit_price, size, pnl, reason, opened_at, closed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.ClosedTrade, error) {
	var trades []domain.ClosedTrade
	for rows.Next() {
		var (
			t         domain.ClosedTrade
			direction string
			reason    string
		)
		if err := rows.Scan(
			&t.PositionID, &t.InstrumentID, &direction,
			&t.EntryPrice, &t.ExitPrice, &t.Size, &t.PnL, &reason,
			&t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Direction = domain.Direction(direction)
		t.Reason = domain.CloseReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListRecent returns the most recently closed trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.ClosedTrade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades ORDER BY closed_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns all trades closed strictly before the given time,
// oldest first. Used by the archiver.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE closed_at < $1 ORDER BY closed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}
