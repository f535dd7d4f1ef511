package domain

import "time"

// PositionStatus tracks the position lifecycle. Every position makes exactly
// one terminal pass: open -> closing -> closed. A position never re-opens.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// CloseReason records why a position was exited.
type CloseReason string

const (
	CloseForced     CloseReason = "forced_close"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseTimeStop   CloseReason = "time_stop"
	CloseShutdown   CloseReason = "shutdown"
)

// Position is an open trade. It is created by the execution coordinator on a
// successful fill and mutated only through the risk manager's synchronized
// accessors (status transitions by the position monitor, forced-close by the
// risk manager).
type Position struct {
	ID         string
	OrderID    string
	Instrument Instrument
	Direction  Direction
	EntryPrice float64
	Size       float64 // quote currency notional
	StopLoss   float64
	TakeProfit float64
	Status     PositionStatus
	OpenedAt   time.Time
	ClosedAt   *time.Time
	ExitPrice  *float64
	PnL        float64
	Reason     CloseReason
}

// UnrealizedPnL returns the mark-to-market profit at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	switch p.Direction {
	case DirectionShort:
		return (p.EntryPrice - price) / p.EntryPrice * p.Size
	default:
		return (price - p.EntryPrice) / p.EntryPrice * p.Size
	}
}

// StopLossHit reports whether price has crossed the stop level.
func (p Position) StopLossHit(price float64) bool {
	if p.Direction == DirectionShort {
		return price >= p.StopLoss
	}
	return price <= p.StopLoss
}

// TakeProfitHit reports whether price has crossed the take-profit level.
func (p Position) TakeProfitHit(price float64) bool {
	if p.Direction == DirectionShort {
		return price <= p.TakeProfit
	}
	return price >= p.TakeProfit
}

// ClosedTrade is the append-only record written when a position reaches the
// closed state. It is never mutated after creation.
type ClosedTrade struct {
	PositionID   string
	InstrumentID string
	Direction    Direction
	EntryPrice   float64
	ExitPrice    float64
	Size         float64
	PnL          float64
	Reason       CloseReason
	OpenedAt     time.Time
	ClosedAt     time.Time
}
