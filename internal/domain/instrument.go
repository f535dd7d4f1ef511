// Package domain defines the core types shared across the bot: instruments,
// opportunities, positions, account state, risk limits, and the collaborator
// interfaces (market gateway, caches, stores, journal) implemented by the
// infrastructure packages.
package domain

// LiquidityTier ranks instruments by how easily a small order fills without
// moving the price. Higher is more liquid.
type LiquidityTier int

const (
	TierLow LiquidityTier = iota + 1
	TierMid
	TierHigh
)

func (t LiquidityTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMid:
		return "mid"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Instrument is a tradable symbol in the candidate universe. Instruments are
// immutable once loaded; the universe manager owns the set and replaces it
// wholesale on refresh.
type Instrument struct {
	ID        string
	MinSize   float64 // minimum order size in quote currency
	Tier      LiquidityTier
	Volume24h float64 // 24h turnover in quote currency
}
