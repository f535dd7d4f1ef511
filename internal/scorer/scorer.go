// Package scorer converts scanned feature vectors into ranked opportunities.
// Scoring is pure and deterministic: identical features always yield the same
// score, and ranking imposes a total order so results are reproducible.
package scorer

import (
	"sort"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/domain"
	"github.com/tradecraft-labs/microscalp/internal/scanner"
)

// reversalMinConfidence is the floor for reversal opportunities; reversals
// need stronger evidence than momentum before they are worth a scalp.
const reversalMinConfidence = 0.65

// Scorer holds the confidence threshold below which opportunities are dropped
// before ranking.
type Scorer struct {
	minConfidence float64
}

// New creates a Scorer with the given minimum confidence threshold.
func New(minConfidence float64) *Scorer {
	return &Scorer{minConfidence: minConfidence}
}

// Evaluate scores one scanned instrument and returns its opportunities, at
// most one per signal family. Sub-threshold candidates are dropped here.
func (s *Scorer) Evaluate(sc scanner.Scanned, now time.Time) []domain.Opportunity {
	var out []domain.Opportunity

	if score, dir, ok := MomentumScore(sc.Features); ok && abs(score) >= s.minConfidence {
		out = append(out, domain.Opportunity{
			Instrument: sc.Instrument,
			Direction:  dir,
			Kind:       domain.KindMomentum,
			Score:      abs(score),
			Confidence: abs(score),
			EntryPrice: sc.Features.LastPrice,
			CreatedAt:  now,
		})
	}

	minRev := s.minConfidence
	if minRev < reversalMinConfidence {
		minRev = reversalMinConfidence
	}
	if score, dir, ok := ReversalScore(sc.Features); ok && score >= minRev {
		out = append(out, domain.Opportunity{
			Instrument: sc.Instrument,
			Direction:  dir,
			Kind:       domain.KindReversal,
			Score:      score,
			Confidence: score,
			EntryPrice: sc.Features.LastPrice,
			CreatedAt:  now,
		})
	}

	return out
}

// Rank evaluates every scanned instrument and returns the surviving
// opportunities sorted by score descending. Ties break by higher liquidity
// tier, then by instrument ID ascending, making the order total.
func (s *Scorer) Rank(scanned []scanner.Scanned, now time.Time) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, sc := range scanned {
		opps = append(opps, s.Evaluate(sc, now)...)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].Score != opps[j].Score {
			return opps[i].Score > opps[j].Score
		}
		if opps[i].Instrument.Tier != opps[j].Instrument.Tier {
			return opps[i].Instrument.Tier > opps[j].Instrument.Tier
		}
		return opps[i].Instrument.ID < opps[j].Instrument.ID
	})
	return opps
}

// MomentumScore scores trend continuation. The returned score is signed:
// positive favors long, negative short; its magnitude is the confidence,
// clamped to [-1, 1]. ok is false when the features are unusable.
func MomentumScore(f domain.FeatureVector) (float64, domain.Direction, bool) {
	if f.LastPrice <= 0 || f.EMA21 <= 0 {
		return 0, "", false
	}

	var score float64

	if f.EMA8 > f.EMA21 {
		score += 0.3
	} else {
		score -= 0.3
	}

	switch {
	case f.RSI > 40 && f.RSI < 70:
		score += 0.2
	case f.RSI >= 70:
		score -= 0.2
	}

	switch {
	case f.Momentum5 > 0.01:
		score += 0.3
	case f.Momentum5 < -0.01:
		score -= 0.3
	}

	score = clamp(score, -1, 1)

	dir := domain.DirectionLong
	if score < 0 {
		dir = domain.DirectionShort
	}
	return score, dir, true
}

// ReversalScore scores mean reversion off RSI extremes and nearby support.
// The score is always non-negative; direction is long on oversold, short on
// overbought. ok is false when no extreme is present.
func ReversalScore(f domain.FeatureVector) (float64, domain.Direction, bool) {
	if f.LastPrice <= 0 {
		return 0, "", false
	}

	var score float64
	var dir domain.Direction

	switch {
	case f.RSI < 30:
		score += 0.6
		dir = domain.DirectionLong
	case f.RSI > 70:
		score += 0.6
		dir = domain.DirectionShort
	default:
		return 0, "", false
	}

	if f.Support > 0 && f.LastPrice <= f.Support*1.01 {
		score += 0.2
	}

	return clamp(score, 0, 1), dir, true
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
