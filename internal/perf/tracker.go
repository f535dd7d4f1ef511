// Package perf aggregates closed trades and account state into periodic
// performance snapshots. The tracker is read-only with respect to account
// state.
package perf

import (
	"context"
	"log/slog"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/domain"
	"github.com/tradecraft-labs/microscalp/internal/risk"
)

// Tracker emits one PerformanceSnapshot per interval to the log, the journal,
// and (when wired) the snapshot store.
type Tracker struct {
	risk           *risk.Manager
	initialCapital float64
	journal        domain.Journal
	snapshots      domain.SnapshotStore // optional
	logger         *slog.Logger

	now func() time.Time
}

// New creates a Tracker. snapshots may be nil.
func New(riskMgr *risk.Manager, initialCapital float64, journal domain.Journal, snapshots domain.SnapshotStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		risk:           riskMgr,
		initialCapital: initialCapital,
		journal:        journal,
		snapshots:      snapshots,
		logger:         logger.With(slog.String("component", "performance_tracker")),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot computes and emits the current performance snapshot.
func (t *Tracker) Snapshot(ctx context.Context) domain.PerformanceSnapshot {
	acct := t.risk.Account()
	stats := t.risk.TradeStats()

	snap := domain.PerformanceSnapshot{
		Time:          t.now(),
		Balance:       acct.Balance,
		GrowthPct:     Growth(acct.Balance, t.initialCapital),
		TotalTrades:   stats.TotalTrades,
		Wins:          stats.Wins,
		WinRate:       WinRate(stats.Wins, stats.TotalTrades),
		TotalPnL:      stats.TotalPnL,
		OpenPositions: acct.OpenPositions,
	}

	t.logger.InfoContext(ctx, "performance snapshot",
		slog.Float64("balance", snap.Balance),
		slog.Float64("growth_pct", snap.GrowthPct),
		slog.Int("total_trades", snap.TotalTrades),
		slog.Float64("win_rate", snap.WinRate),
		slog.Float64("total_pnl", snap.TotalPnL),
		slog.Int("open_positions", snap.OpenPositions),
	)

	if t.journal != nil {
		if err := t.journal.RecordSnapshot(snap); err != nil {
			t.logger.Warn("journal write failed", slog.String("error", err.Error()))
		}
	}
	if t.snapshots != nil {
		if err := t.snapshots.Insert(ctx, snap); err != nil {
			t.logger.Warn("snapshot store write failed", slog.String("error", err.Error()))
		}
	}

	return snap
}

// Growth returns the percentage growth of balance over initial capital.
func Growth(balance, initial float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (balance - initial) / initial * 100
}

// WinRate returns wins/total, or 0 when no trades have closed.
func WinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}
