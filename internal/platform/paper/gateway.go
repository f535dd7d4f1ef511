// Package paper implements a simulated MarketGateway. Market data comes from
// a real feed; order placement, closes, and the account balance are simulated
// in-process so the full loop can run without risking capital.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// DataSource supplies real market data to the simulator. The live gateway's
// public (unsigned) endpoints satisfy this.
type DataSource interface {
	ListInstruments(ctx context.Context) ([]domain.Instrument, error)
	GetMarketData(ctx context.Context, inst domain.Instrument) (domain.MarketData, error)
}

// simPosition is one simulated open position.
type simPosition struct {
	instrument domain.Instrument
	direction  domain.Direction
	entryPrice float64
	size       float64
	linkID     string
}

// Gateway is the paper-trading MarketGateway. Entries fill at the latest
// quote with no slippage; closes fill at the quote at close time and realize
// PnL into the simulated balance.
type Gateway struct {
	data   DataSource
	logger *slog.Logger

	mu      sync.Mutex
	balance float64
	open    map[string]simPosition // order ID -> position
	byLink  map[string]string      // client order ID -> order ID
}

var _ domain.MarketGateway = (*Gateway)(nil)

// New creates a paper Gateway seeded with the given balance.
func New(data DataSource, initialBalance float64, logger *slog.Logger) *Gateway {
	return &Gateway{
		data:    data,
		logger:  logger.With(slog.String("component", "paper")),
		balance: initialBalance,
		open:    make(map[string]simPosition),
		byLink:  make(map[string]string),
	}
}

// ListInstruments passes through to the real data source.
func (g *Gateway) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	return g.data.ListInstruments(ctx)
}

// GetMarketData passes through to the real data source.
func (g *Gateway) GetMarketData(ctx context.Context, inst domain.Instrument) (domain.MarketData, error) {
	return g.data.GetMarketData(ctx, inst)
}

// PlaceOrder fills immediately at the latest quote. A resubmission with a
// known ClientOrderID returns the original ack instead of opening a second
// position.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	g.mu.Lock()
	if orderID, ok := g.byLink[req.ClientOrderID]; ok {
		pos := g.open[orderID]
		g.mu.Unlock()
		return domain.OrderAck{OrderID: orderID, FillPrice: pos.entryPrice}, nil
	}
	g.mu.Unlock()

	md, err := g.data.GetMarketData(ctx, req.Instrument)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("paper: quote %s: %w", req.Instrument.ID, err)
	}
	if md.LastPrice <= 0 {
		return domain.OrderAck{}, fmt.Errorf("paper: quote %s: no price", req.Instrument.ID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if req.Size > g.balance {
		return domain.OrderAck{}, fmt.Errorf("paper: order %s: %w", req.Instrument.ID, domain.ErrInsufficientFunds)
	}

	orderID := uuid.New().String()
	g.open[orderID] = simPosition{
		instrument: req.Instrument,
		direction:  req.Direction,
		entryPrice: md.LastPrice,
		size:       req.Size,
		linkID:     req.ClientOrderID,
	}
	g.byLink[req.ClientOrderID] = orderID

	g.logger.DebugContext(ctx, "simulated fill",
		slog.String("symbol", req.Instrument.ID),
		slog.String("direction", string(req.Direction)),
		slog.Float64("price", md.LastPrice),
		slog.Float64("size", req.Size),
	)
	return domain.OrderAck{OrderID: orderID, FillPrice: md.LastPrice}, nil
}

// ClosePosition fills the exit at the current quote and realizes the PnL
// into the simulated balance. Closing an already-closed order returns
// domain.ErrAlreadyClosed.
func (g *Gateway) ClosePosition(ctx context.Context, orderID string) (domain.CloseAck, error) {
	g.mu.Lock()
	pos, ok := g.open[orderID]
	g.mu.Unlock()
	if !ok {
		return domain.CloseAck{}, fmt.Errorf("paper: close %s: %w", orderID, domain.ErrAlreadyClosed)
	}

	md, err := g.data.GetMarketData(ctx, pos.instrument)
	if err != nil {
		return domain.CloseAck{}, fmt.Errorf("paper: exit quote %s: %w", pos.instrument.ID, err)
	}
	exit := md.LastPrice
	if exit <= 0 {
		exit = pos.entryPrice
	}

	pnl := (exit - pos.entryPrice) / pos.entryPrice * pos.size
	if pos.direction == domain.DirectionShort {
		pnl = -pnl
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, still := g.open[orderID]; !still {
		return domain.CloseAck{}, fmt.Errorf("paper: close %s: %w", orderID, domain.ErrAlreadyClosed)
	}
	delete(g.open, orderID)
	delete(g.byLink, pos.linkID)
	g.balance += pnl
	if g.balance < 0 {
		g.balance = 0
	}
	return domain.CloseAck{ExitPrice: exit}, nil
}

// GetBalance returns the simulated balance.
func (g *Gateway) GetBalance(context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}
