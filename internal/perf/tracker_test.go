package perf

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecraft-labs/microscalp/internal/domain"
	"github.com/tradecraft-labs/microscalp/internal/risk"
)

type captureJournal struct {
	snaps []domain.PerformanceSnapshot
}

func (j *captureJournal) RecordTrade(trade domain.ClosedTrade) error { return nil }

func (j *captureJournal) RecordSnapshot(snap domain.PerformanceSnapshot) error {
	j.snaps = append(j.snaps, snap)
	return nil
}

func TestGrowth(t *testing.T) {
	assert.InDelta(t, 2.5, Growth(102.50, 100), 1e-9)
	assert.InDelta(t, -10, Growth(90, 100), 1e-9)
	assert.Equal(t, 0.0, Growth(100, 0), "guard against zero initial capital")
}

func TestWinRate(t *testing.T) {
	assert.Equal(t, 0.0, WinRate(0, 0), "no trades is not NaN")
	assert.InDelta(t, 0.6, WinRate(3, 5), 1e-9)
}

func TestSnapshot(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	limits := domain.RiskLimits{
		MaxConcurrentTrades: 5,
		DailyLossLimit:      0.5,
		MaxDrawdownLimit:    0.5,
		CircuitBreakerLimit: 0.5,
		MinPositionSize:     5,
		MaxPositionSize:     20,
	}
	rm := risk.New(limits, 100, time.Now(), logger)

	rm.Commit(domain.Position{
		ID:         "p1",
		Instrument: domain.Instrument{ID: "BTCUSDT"},
		Direction:  domain.DirectionLong,
		EntryPrice: 100,
		Size:       10,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	})
	_, err := rm.Settle("p1", 102.5, domain.CloseTakeProfit, time.Now())
	require.NoError(t, err)

	j := &captureJournal{}
	tr := New(rm, 100, j, nil, logger)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	snap := tr.Snapshot(context.Background())

	assert.Equal(t, fixed, snap.Time)
	assert.InDelta(t, 100.25, snap.Balance, 1e-9)
	assert.InDelta(t, 0.25, snap.GrowthPct, 1e-9)
	assert.Equal(t, 1, snap.TotalTrades)
	assert.Equal(t, 1, snap.Wins)
	assert.Equal(t, 1.0, snap.WinRate)
	assert.InDelta(t, 0.25, snap.TotalPnL, 1e-9)
	assert.Equal(t, 0, snap.OpenPositions)

	require.Len(t, j.snaps, 1)
	assert.Equal(t, snap, j.snaps[0])
}
