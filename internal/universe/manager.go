// Package universe maintains the fixed candidate instrument set, refreshed on
// a slow cadence independent of the trading cycle.
package universe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// Manager holds the active instrument set. A failed refresh keeps serving the
// last known-good set rather than failing the trading cycle.
type Manager struct {
	gateway   domain.MarketGateway
	size      int
	minVolume float64
	logger    *slog.Logger

	mu          sync.RWMutex
	instruments []domain.Instrument
	onRefresh   func([]domain.Instrument)
}

// New creates a Manager selecting at most size instruments with at least
// minVolume 24h turnover.
func New(gateway domain.MarketGateway, size int, minVolume float64, logger *slog.Logger) *Manager {
	return &Manager{
		gateway:   gateway,
		size:      size,
		minVolume: minVolume,
		logger:    logger.With(slog.String("component", "universe")),
	}
}

// Refresh pulls the instrument list from the gateway, filters by volume,
// ranks by turnover, and swaps in the new set. On failure the previous set
// stays in place and the error is returned for logging only.
func (m *Manager) Refresh(ctx context.Context) error {
	listed, err := m.gateway.ListInstruments(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "universe refresh failed, keeping last known set",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("universe: list instruments: %w", err)
	}

	selected := make([]domain.Instrument, 0, len(listed))
	for _, inst := range listed {
		if inst.Volume24h >= m.minVolume {
			selected = append(selected, inst)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Volume24h != selected[j].Volume24h {
			return selected[i].Volume24h > selected[j].Volume24h
		}
		return selected[i].ID < selected[j].ID
	})
	if len(selected) > m.size {
		selected = selected[:m.size]
	}

	m.mu.Lock()
	m.instruments = selected
	hook := m.onRefresh
	m.mu.Unlock()

	if hook != nil {
		hook(selected)
	}

	m.logger.InfoContext(ctx, "universe refreshed",
		slog.Int("listed", len(listed)),
		slog.Int("selected", len(selected)),
	)
	return nil
}

// OnRefresh registers a callback invoked with the new set after every
// successful refresh. Set it before Run starts.
func (m *Manager) OnRefresh(fn func([]domain.Instrument)) {
	m.mu.Lock()
	m.onRefresh = fn
	m.mu.Unlock()
}

// Instruments returns a copy of the active set in its ranked order.
func (m *Manager) Instruments() []domain.Instrument {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Instrument, len(m.instruments))
	copy(out, m.instruments)
	return out
}

// Run refreshes on the given interval until ctx is cancelled. The initial
// refresh happens immediately.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	_ = m.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = m.Refresh(ctx)
		}
	}
}
