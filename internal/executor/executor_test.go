package executor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecraft-labs/microscalp/internal/domain"
	"github.com/tradecraft-labs/microscalp/internal/risk"
)

type scriptedGateway struct {
	mu       sync.Mutex
	errs     []error // consumed per PlaceOrder call, nil means fill
	calls    int
	requests []domain.OrderRequest
	fill     float64
}

func (g *scriptedGateway) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	return nil, nil
}

func (g *scriptedGateway) GetMarketData(ctx context.Context, inst domain.Instrument) (domain.MarketData, error) {
	return domain.MarketData{}, nil
}

func (g *scriptedGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return domain.OrderAck{}, err
		}
	}
	return domain.OrderAck{OrderID: "ord-1", FillPrice: g.fill}, nil
}

func (g *scriptedGateway) ClosePosition(ctx context.Context, orderID string) (domain.CloseAck, error) {
	return domain.CloseAck{}, nil
}

func (g *scriptedGateway) GetBalance(ctx context.Context) (float64, error) { return 0, nil }

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxConcurrentTrades: 3,
		DailyLossLimit:      0.10,
		MaxDrawdownLimit:    0.20,
		CircuitBreakerLimit: 0.15,
		MinPositionSize:     5,
		MaxPositionSize:     20,
		TakeProfit:          0.01,
		StopLoss:            0.005,
		MaxHoldTime:         15 * time.Minute,
	}
}

func newCoordinator(gw domain.MarketGateway, capital float64) (*Coordinator, *risk.Manager) {
	logger := slog.New(slog.DiscardHandler)
	limits := testLimits()
	rm := risk.New(limits, capital, time.Now(), logger)
	c := New(gw, rm, limits, logger)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c, rm
}

func opp(id string, confidence, entry float64) domain.Opportunity {
	return domain.Opportunity{
		Instrument: domain.Instrument{ID: id, MinSize: 5, Tier: domain.TierHigh},
		Direction:  domain.DirectionLong,
		Kind:       domain.KindMomentum,
		Score:      confidence,
		Confidence: confidence,
		EntryPrice: entry,
		CreatedAt:  time.Now(),
	}
}

func TestExecuteCycleOpensPosition(t *testing.T) {
	gw := &scriptedGateway{fill: 100.5}
	c, rm := newCoordinator(gw, 1000)

	c.ExecuteCycle(context.Background(), []domain.Opportunity{opp("BTCUSDT", 0.8, 100)})

	open := rm.OpenPositions()
	require.Len(t, open, 1)
	pos := open[0]
	assert.Equal(t, "ord-1", pos.OrderID)
	assert.Equal(t, 100.5, pos.EntryPrice, "levels recompute off the actual fill")
	assert.InDelta(t, 100.5*0.995, pos.StopLoss, 1e-9)
	assert.InDelta(t, 100.5*1.01, pos.TakeProfit, 1e-9)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Contains(t, req.ClientOrderID, "BTCUSDT-")
	assert.InDelta(t, 0.8*20, req.Size, 1e-9)
}

func TestExecuteCycleRetriesTransientOnly(t *testing.T) {
	gw := &scriptedGateway{errs: []error{domain.ErrTimeout, domain.ErrRateLimited, nil}, fill: 100}
	c, rm := newCoordinator(gw, 1000)

	c.ExecuteCycle(context.Background(), []domain.Opportunity{opp("BTCUSDT", 0.8, 100)})

	assert.Equal(t, 3, gw.calls)
	assert.Len(t, rm.OpenPositions(), 1)

	// All idempotent resubmissions carried the same client order ID.
	first := gw.requests[0].ClientOrderID
	for _, req := range gw.requests[1:] {
		assert.Equal(t, first, req.ClientOrderID)
	}
}

func TestExecuteCycleRejectionReleasesReservation(t *testing.T) {
	gw := &scriptedGateway{errs: []error{domain.ErrRejected}}
	c, rm := newCoordinator(gw, 1000)

	c.ExecuteCycle(context.Background(), []domain.Opportunity{opp("BTCUSDT", 0.8, 100)})

	assert.Equal(t, 1, gw.calls, "venue rejections are not retried")
	assert.Empty(t, rm.OpenPositions())
	assert.False(t, rm.HasOpen("BTCUSDT"), "reservation must be released on failure")
}

func TestExecuteCycleExhaustedRetriesRelease(t *testing.T) {
	gw := &scriptedGateway{errs: []error{domain.ErrTimeout, domain.ErrTimeout, domain.ErrTimeout}}
	c, rm := newCoordinator(gw, 1000)

	c.ExecuteCycle(context.Background(), []domain.Opportunity{opp("BTCUSDT", 0.8, 100)})

	assert.Equal(t, 3, gw.calls)
	assert.Empty(t, rm.OpenPositions())
	assert.False(t, rm.HasOpen("BTCUSDT"))
}

func TestExecuteCycleSkipsExistingExposure(t *testing.T) {
	gw := &scriptedGateway{fill: 100}
	c, rm := newCoordinator(gw, 1000)

	c.ExecuteCycle(context.Background(), []domain.Opportunity{opp("BTCUSDT", 0.8, 100)})
	require.Len(t, rm.OpenPositions(), 1)

	// Same instrument resurfacing next cycle is skipped without a gateway call.
	c.ExecuteCycle(context.Background(), []domain.Opportunity{opp("BTCUSDT", 0.9, 101)})
	assert.Equal(t, 1, gw.calls)
	assert.Len(t, rm.OpenPositions(), 1)
}

func TestExecuteCycleHonorsConcurrencyCap(t *testing.T) {
	gw := &scriptedGateway{fill: 100}
	c, rm := newCoordinator(gw, 10000)

	opps := []domain.Opportunity{
		opp("AAA", 0.9, 100), opp("BBB", 0.8, 100), opp("CCC", 0.7, 100),
		opp("DDD", 0.7, 100), opp("EEE", 0.7, 100),
	}
	c.ExecuteCycle(context.Background(), opps)

	open := rm.OpenPositions()
	require.Len(t, open, 3)
	ids := []string{open[0].Instrument.ID, open[1].Instrument.ID, open[2].Instrument.ID}
	assert.ElementsMatch(t, []string{"AAA", "BBB", "CCC"}, ids, "rank order wins the slots")
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, backoffDelay(0))
	assert.Equal(t, 500*time.Millisecond, backoffDelay(1))
	assert.Equal(t, time.Second, backoffDelay(2))
	assert.Equal(t, 2*time.Second, backoffDelay(3))
	assert.Equal(t, 4*time.Second, backoffDelay(4))
	assert.Equal(t, 5*time.Second, backoffDelay(5), "capped")
	assert.Equal(t, 5*time.Second, backoffDelay(30))
	assert.Equal(t, 250*time.Millisecond, backoffDelay(-1))
}

func TestScalpLevels(t *testing.T) {
	stop, take := scalpLevels(domain.DirectionLong, 100, 0.005, 0.01)
	assert.InDelta(t, 99.5, stop, 1e-9)
	assert.InDelta(t, 101, take, 1e-9)

	stop, take = scalpLevels(domain.DirectionShort, 100, 0.005, 0.01)
	assert.InDelta(t, 100.5, stop, 1e-9)
	assert.InDelta(t, 99, take, 1e-9)
}
