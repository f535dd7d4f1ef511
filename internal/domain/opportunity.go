package domain

import "time"

// Direction is the side of a candidate trade or position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// OpportunityKind labels which signal family produced an opportunity.
type OpportunityKind string

const (
	KindMomentum OpportunityKind = "momentum"
	KindReversal OpportunityKind = "reversal"
)

// FeatureVector holds the per-instrument signal features a scan derives from
// recent klines. All values are computed from the same snapshot of market
// data, so the vector is internally consistent.
type FeatureVector struct {
	LastPrice  float64
	EMA8       float64
	EMA21      float64
	RSI        float64
	ATR        float64
	Momentum5  float64 // fractional 5-bar price change
	Support    float64 // min low of last 10 bars
	Resistance float64 // max high of last 10 bars
}

// Volatility is the ATR expressed as a fraction of the last price.
func (f FeatureVector) Volatility() float64 {
	if f.LastPrice <= 0 {
		return 0
	}
	return f.ATR / f.LastPrice
}

// Opportunity is a scored candidate trade produced by the scorer for one scan
// cycle. Opportunities are discarded after the cycle's gating decision and are
// never persisted.
type Opportunity struct {
	Instrument Instrument
	Direction  Direction
	Kind       OpportunityKind
	Score      float64
	Confidence float64
	EntryPrice float64
	CreatedAt  time.Time
}
