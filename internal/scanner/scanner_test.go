package scanner

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

type fakeGateway struct {
	data map[string]domain.MarketData
	errs map[string]error
}

func (g *fakeGateway) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	return nil, nil
}

func (g *fakeGateway) GetMarketData(ctx context.Context, inst domain.Instrument) (domain.MarketData, error) {
	if err, ok := g.errs[inst.ID]; ok {
		return domain.MarketData{}, err
	}
	return g.data[inst.ID], nil
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	return domain.OrderAck{}, nil
}

func (g *fakeGateway) ClosePosition(ctx context.Context, orderID string) (domain.CloseAck, error) {
	return domain.CloseAck{}, nil
}

func (g *fakeGateway) GetBalance(ctx context.Context) (float64, error) { return 0, nil }

type memPrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (c *memPrices) SetPrice(ctx context.Context, id string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prices == nil {
		c.prices = make(map[string]float64)
	}
	c.prices[id] = price
	return nil
}

func (c *memPrices) GetPrice(ctx context.Context, id string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[id]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

// marketData builds a flat kline window of n bars closing at price.
func marketData(id string, n int, price float64) domain.MarketData {
	md := domain.MarketData{InstrumentID: id, LastPrice: price}
	for i := 0; i < n; i++ {
		md.Closes = append(md.Closes, price)
		md.Highs = append(md.Highs, price+1)
		md.Lows = append(md.Lows, price-1)
	}
	return md
}

func TestScanIsolatesFailures(t *testing.T) {
	gw := &fakeGateway{
		data: map[string]domain.MarketData{
			"BTCUSDT": marketData("BTCUSDT", 30, 50000),
			"SOLUSDT": marketData("SOLUSDT", 30, 150),
		},
		errs: map[string]error{
			"ETHUSDT": domain.ErrTimeout,
		},
	}
	prices := &memPrices{}
	s := New(gw, prices, slog.New(slog.DiscardHandler))

	universe := []domain.Instrument{
		{ID: "BTCUSDT"}, {ID: "ETHUSDT"}, {ID: "SOLUSDT"},
	}
	got := s.Scan(context.Background(), universe)

	// The failed instrument is skipped; order of the survivors is preserved.
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSDT", got[0].Instrument.ID)
	assert.Equal(t, "SOLUSDT", got[1].Instrument.ID)

	// Last ticks were warmed into the cache.
	p, _, err := prices.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, p)
}

func TestScanSkipsShortHistory(t *testing.T) {
	gw := &fakeGateway{
		data: map[string]domain.MarketData{
			"BTCUSDT": marketData("BTCUSDT", 5, 50000),
		},
	}
	s := New(gw, nil, slog.New(slog.DiscardHandler))

	got := s.Scan(context.Background(), []domain.Instrument{{ID: "BTCUSDT"}})
	assert.Empty(t, got)
}

func TestScanStopsOnCancelledContext(t *testing.T) {
	gw := &fakeGateway{
		data: map[string]domain.MarketData{"BTCUSDT": marketData("BTCUSDT", 30, 50000)},
	}
	s := New(gw, nil, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := s.Scan(ctx, []domain.Instrument{{ID: "BTCUSDT"}})
	assert.Empty(t, got)
}

func TestDerive(t *testing.T) {
	_, ok := Derive(marketData("X", 10, 100))
	assert.False(t, ok, "short window must be refused")

	md := marketData("X", 30, 100)
	// Rising tail so momentum and support/resistance are distinguishable.
	n := len(md.Closes)
	for i := n - 10; i < n; i++ {
		md.Closes[i] = 100 + float64(i-(n-10))
		md.Highs[i] = md.Closes[i] + 1
		md.Lows[i] = md.Closes[i] - 1
	}
	md.LastPrice = 110.5

	f, ok := Derive(md)
	require.True(t, ok)
	assert.Equal(t, 110.5, f.LastPrice, "live tick overrides the bar close")
	assert.Greater(t, f.EMA8, f.EMA21)
	assert.InDelta(t, (109.0-105.0)/105.0, f.Momentum5, 1e-9)
	assert.Equal(t, 99.0, f.Support)
	assert.Equal(t, 110.0, f.Resistance)
}
