package domain

import "context"

// MarketData is one instrument's recent kline window plus the latest tick.
// Slices are ordered oldest first.
type MarketData struct {
	InstrumentID string
	LastPrice    float64
	Closes       []float64
	Highs        []float64
	Lows         []float64
	Volume24h    float64
}

// OrderRequest is a market entry order. ClientOrderID is the idempotency key
// (instrument + cycle timestamp): the venue treats a resubmission with the
// same key as the same order, so a retry of a timed-out submission cannot
// produce a duplicate position.
type OrderRequest struct {
	Instrument    Instrument
	Direction     Direction
	Size          float64
	StopLoss      float64
	TakeProfit    float64
	ClientOrderID string
}

// OrderAck confirms a filled entry order.
type OrderAck struct {
	OrderID   string
	FillPrice float64
}

// CloseAck confirms a filled closing order.
type CloseAck struct {
	ExitPrice float64
}

// MarketGateway is the exchange connector consumed by the core loop. All
// calls are network I/O and honor context cancellation. Failures are mapped
// onto the sentinel errors in this package (ErrTimeout, ErrRateLimited,
// ErrRejected, ErrInsufficientFunds, ErrAlreadyClosed, ErrNotFound).
type MarketGateway interface {
	ListInstruments(ctx context.Context) ([]Instrument, error)
	GetMarketData(ctx context.Context, inst Instrument) (MarketData, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	ClosePosition(ctx context.Context, orderID string) (CloseAck, error)
	GetBalance(ctx context.Context) (float64, error)
}
