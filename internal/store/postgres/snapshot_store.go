package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Insert persists a performance snapshot. A second snapshot at the same
// instant overwrites the first.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.PerformanceSnapshot) error {
	const query = `
		INSERT INTO snapshots (
			taken_at, balance, growth_pct,
			total_trades, wins, win_rate, total_pnl, open_positions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (taken_at) DO UPDATE SET
			balance = EXCLUDED.balance,
			growth_pct = EXCLUDED.growth_pct,
			total_trades = EXCLUDED.total_trades,
			wins = EXCLUDED.wins,
			win_rate = EXCLUDED.win_rate,
			total_pnl = EXCLUDED.total_pnl,
			open_positions = EXCLUDED.open_positions`

	_, err := s.pool.Exec(ctx, query,
		snap.Time, snap.Balance, snap.GrowthPct,
		snap.TotalTrades, snap.Wins, snap.WinRate, snap.TotalPnL, snap.OpenPositions,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot, or domain.ErrNotFound when none
// has been taken yet.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.PerformanceSnapshot, error) {
	const query = `
		SELECT taken_at, balance, growth_pct,
			total_trades, wins, win_rate, total_pnl, open_positions
		FROM snapshots ORDER BY taken_at DESC LIMIT 1`

	var snap domain.PerformanceSnapshot
	err := s.pool.QueryRow(ctx, query).Scan(
		&snap.Time, &snap.Balance, &snap.GrowthPct,
		&snap.TotalTrades, &snap.Wins, &snap.WinRate, &snap.TotalPnL, &snap.OpenPositions,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PerformanceSnapshot{}, domain.ErrNotFound
		}
		return domain.PerformanceSnapshot{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}
	return snap, nil
}
