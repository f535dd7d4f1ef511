package universe

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

type listGateway struct {
	mu    sync.Mutex
	insts []domain.Instrument
	err   error
}

func (g *listGateway) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return g.insts, nil
}

func (g *listGateway) GetMarketData(ctx context.Context, inst domain.Instrument) (domain.MarketData, error) {
	return domain.MarketData{}, nil
}

func (g *listGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	return domain.OrderAck{}, nil
}

func (g *listGateway) ClosePosition(ctx context.Context, orderID string) (domain.CloseAck, error) {
	return domain.CloseAck{}, nil
}

func (g *listGateway) GetBalance(ctx context.Context) (float64, error) { return 0, nil }

func TestRefreshFiltersRanksAndTruncates(t *testing.T) {
	gw := &listGateway{insts: []domain.Instrument{
		{ID: "LOWVOL", Volume24h: 500},
		{ID: "BTCUSDT", Volume24h: 90_000_000},
		{ID: "ETHUSDT", Volume24h: 60_000_000},
		{ID: "SOLUSDT", Volume24h: 30_000_000},
		{ID: "XRPUSDT", Volume24h: 20_000_000},
	}}
	m := New(gw, 3, 1_000_000, slog.New(slog.DiscardHandler))

	require.NoError(t, m.Refresh(context.Background()))

	got := m.Instruments()
	require.Len(t, got, 3)
	assert.Equal(t, "BTCUSDT", got[0].ID)
	assert.Equal(t, "ETHUSDT", got[1].ID)
	assert.Equal(t, "SOLUSDT", got[2].ID)
}

func TestRefreshTieBreaksByID(t *testing.T) {
	gw := &listGateway{insts: []domain.Instrument{
		{ID: "BBB", Volume24h: 5_000_000},
		{ID: "AAA", Volume24h: 5_000_000},
	}}
	m := New(gw, 10, 1_000_000, slog.New(slog.DiscardHandler))

	require.NoError(t, m.Refresh(context.Background()))

	got := m.Instruments()
	require.Len(t, got, 2)
	assert.Equal(t, "AAA", got[0].ID)
	assert.Equal(t, "BBB", got[1].ID)
}

func TestRefreshFailureKeepsLastKnownSet(t *testing.T) {
	gw := &listGateway{insts: []domain.Instrument{{ID: "BTCUSDT", Volume24h: 90_000_000}}}
	m := New(gw, 5, 1_000_000, slog.New(slog.DiscardHandler))

	require.NoError(t, m.Refresh(context.Background()))
	require.Len(t, m.Instruments(), 1)

	gw.mu.Lock()
	gw.err = domain.ErrTimeout
	gw.mu.Unlock()

	err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Len(t, m.Instruments(), 1, "stale set keeps serving")
}

func TestInstrumentsReturnsCopy(t *testing.T) {
	gw := &listGateway{insts: []domain.Instrument{{ID: "BTCUSDT", Volume24h: 90_000_000}}}
	m := New(gw, 5, 1_000_000, slog.New(slog.DiscardHandler))
	require.NoError(t, m.Refresh(context.Background()))

	got := m.Instruments()
	got[0].ID = "mutated"
	assert.Equal(t, "BTCUSDT", m.Instruments()[0].ID)
}

func TestOnRefreshHook(t *testing.T) {
	gw := &listGateway{insts: []domain.Instrument{{ID: "BTCUSDT", Volume24h: 90_000_000}}}
	m := New(gw, 5, 1_000_000, slog.New(slog.DiscardHandler))

	var calls [][]domain.Instrument
	m.OnRefresh(func(set []domain.Instrument) { calls = append(calls, set) })

	require.NoError(t, m.Refresh(context.Background()))
	require.Len(t, calls, 1)
	assert.Equal(t, "BTCUSDT", calls[0][0].ID)

	// Failed refreshes do not fire the hook.
	gw.mu.Lock()
	gw.err = domain.ErrTimeout
	gw.mu.Unlock()
	_ = m.Refresh(context.Background())
	assert.Len(t, calls, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	gw := &listGateway{insts: []domain.Instrument{{ID: "BTCUSDT", Volume24h: 90_000_000}}}
	m := New(gw, 5, 1_000_000, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Hour) }()

	// The initial refresh runs before the ticker loop.
	require.Eventually(t, func() bool { return len(m.Instruments()) == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
