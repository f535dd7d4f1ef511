package scanner

// Technical indicators over kline windows. All functions are pure and treat
// their inputs as oldest-first series.

// EMA returns the exponential moving average of prices with the given period,
// seeded from the first value (alpha = 2/(period+1)).
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 || period <= 0 {
		return 0
	}
	alpha := 2.0 / (float64(period) + 1.0)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = alpha*p + (1-alpha)*ema
	}
	return ema
}

// RSI returns the relative strength index over the trailing period. With
// fewer than period+1 prices, or when there are no losses and no gains, it
// returns the neutral value 50.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 50
	}

	var gain, loss float64
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// ATR returns the average true range over the trailing period. The three
// slices must have equal length; with insufficient data it returns 0.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0
	}

	var sum float64
	for i := n - period; i < n; i++ {
		tr := highs[i] - lows[i]
		if hc := abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
