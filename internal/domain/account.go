package domain

import "time"

// AccountState is the shared capital snapshot. The risk manager owns the
// authoritative copy behind its mutex; every other component sees value
// copies taken under that lock.
type AccountState struct {
	Balance         float64
	PeakBalance     float64 // all-time high-water mark
	DayStartBalance float64
	DailyPnL        float64 // cumulative realized PnL for the current trading day
	Day             time.Time // UTC midnight of the current trading day
	OpenPositions   int
}

// RiskLimits is the immutable risk configuration constructed once at startup.
type RiskLimits struct {
	MaxConcurrentTrades int
	DailyLossLimit      float64 // fraction of day-start balance
	MaxDrawdownLimit    float64 // fraction of peak balance
	CircuitBreakerLimit float64 // fraction of day-start balance, realized loss
	MinPositionSize     float64
	MaxPositionSize     float64
	TakeProfit          float64 // fraction of entry price
	StopLoss            float64 // fraction of entry price
	MaxHoldTime         time.Duration
}

// PerformanceSnapshot is the periodic account summary emitted by the
// performance tracker. Snapshots are append-only.
type PerformanceSnapshot struct {
	Time          time.Time
	Balance       float64
	GrowthPct     float64
	TotalTrades   int
	Wins          int
	WinRate       float64
	TotalPnL      float64
	OpenPositions int
}
