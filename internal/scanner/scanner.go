// Package scanner pulls market data for every instrument in the universe and
// derives the per-instrument feature vector consumed by the scorer.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// minBars is the shortest kline window the feature derivation accepts; it
// covers the longest indicator lookback (EMA21 seeded plus RSI/ATR windows).
const minBars = 20

// Scanned pairs an instrument with the features derived for it in one cycle.
type Scanned struct {
	Instrument domain.Instrument
	Features   domain.FeatureVector
}

// Scanner fetches market data through the gateway and computes features. A
// per-instrument fetch failure is isolated: the instrument is skipped for the
// cycle and logged, never aborting the scan.
type Scanner struct {
	gateway domain.MarketGateway
	prices  domain.PriceCache // optional; best-effort warm of last ticks
	logger  *slog.Logger
}

// New creates a Scanner. prices may be nil when no cache is wired.
func New(gateway domain.MarketGateway, prices domain.PriceCache, logger *slog.Logger) *Scanner {
	return &Scanner{
		gateway: gateway,
		prices:  prices,
		logger:  logger.With(slog.String("component", "scanner")),
	}
}

// Scan walks the given instruments, fetching market data and deriving
// features for each. The result preserves universe order and contains only
// the instruments that scanned cleanly; it is finite per cycle and not
// restartable; a re-scan requires a new cycle.
func (s *Scanner) Scan(ctx context.Context, instruments []domain.Instrument) []Scanned {
	out := make([]Scanned, 0, len(instruments))

	for _, inst := range instruments {
		if ctx.Err() != nil {
			return out
		}

		md, err := s.gateway.GetMarketData(ctx, inst)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, domain.ErrNotFound) {
				level = slog.LevelDebug
			}
			s.logger.Log(ctx, level, "market data fetch failed, skipping instrument",
				slog.String("instrument", inst.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		features, ok := Derive(md)
		if !ok {
			s.logger.DebugContext(ctx, "insufficient kline history, skipping instrument",
				slog.String("instrument", inst.ID),
				slog.Int("bars", len(md.Closes)),
			)
			continue
		}

		if s.prices != nil {
			if cacheErr := s.prices.SetPrice(ctx, inst.ID, md.LastPrice, time.Now().UTC()); cacheErr != nil {
				s.logger.DebugContext(ctx, "price cache write failed",
					slog.String("instrument", inst.ID),
					slog.String("error", cacheErr.Error()),
				)
			}
		}

		out = append(out, Scanned{Instrument: inst, Features: features})
	}

	s.logger.InfoContext(ctx, "scan complete",
		slog.Int("universe", len(instruments)),
		slog.Int("scanned", len(out)),
	)
	return out
}

// Derive computes the feature vector from one instrument's market data. It
// reports false when the kline window is too short to be meaningful.
func Derive(md domain.MarketData) (domain.FeatureVector, bool) {
	n := len(md.Closes)
	if n < minBars || len(md.Highs) != n || len(md.Lows) != n {
		return domain.FeatureVector{}, false
	}

	f := domain.FeatureVector{
		LastPrice:  md.Closes[n-1],
		EMA8:       EMA(md.Closes, 8),
		EMA21:      EMA(md.Closes, 21),
		RSI:        RSI(md.Closes, 14),
		ATR:        ATR(md.Highs, md.Lows, md.Closes, 14),
		Momentum5:  (md.Closes[n-1] - md.Closes[n-5]) / md.Closes[n-5],
		Support:    minOf(md.Lows[n-10:]),
		Resistance: maxOf(md.Highs[n-10:]),
	}
	if md.LastPrice > 0 {
		f.LastPrice = md.LastPrice
	}
	return f, true
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
