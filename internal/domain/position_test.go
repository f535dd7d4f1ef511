package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnrealizedPnL(t *testing.T) {
	long := Position{Direction: DirectionLong, EntryPrice: 100, Size: 10}
	assert.InDelta(t, 0.2, long.UnrealizedPnL(102), 1e-9)
	assert.InDelta(t, -0.5, long.UnrealizedPnL(95), 1e-9)

	short := Position{Direction: DirectionShort, EntryPrice: 100, Size: 10}
	assert.InDelta(t, -0.2, short.UnrealizedPnL(102), 1e-9)
	assert.InDelta(t, 0.5, short.UnrealizedPnL(95), 1e-9)

	broken := Position{Direction: DirectionLong, EntryPrice: 0, Size: 10}
	assert.Equal(t, 0.0, broken.UnrealizedPnL(100))
}

func TestStopAndTakeLevels(t *testing.T) {
	long := Position{Direction: DirectionLong, EntryPrice: 100, StopLoss: 99.5, TakeProfit: 101}
	assert.True(t, long.StopLossHit(99.5))
	assert.True(t, long.StopLossHit(99))
	assert.False(t, long.StopLossHit(100))
	assert.True(t, long.TakeProfitHit(101))
	assert.False(t, long.TakeProfitHit(100.9))

	short := Position{Direction: DirectionShort, EntryPrice: 100, StopLoss: 100.5, TakeProfit: 99}
	assert.True(t, short.StopLossHit(100.5))
	assert.False(t, short.StopLossHit(100.4))
	assert.True(t, short.TakeProfitHit(99))
	assert.False(t, short.TakeProfitHit(99.1))
}

func TestVolatility(t *testing.T) {
	f := FeatureVector{LastPrice: 100, ATR: 2}
	assert.InDelta(t, 0.02, f.Volatility(), 1e-9)

	zero := FeatureVector{LastPrice: 0, ATR: 2}
	assert.Equal(t, 0.0, zero.Volatility())
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(ErrTimeout))
	assert.True(t, Transient(ErrRateLimited))
	assert.True(t, Transient(errors.Join(errors.New("wrap"), ErrTimeout)))
	assert.False(t, Transient(ErrRejected))
	assert.False(t, Transient(ErrInsufficientFunds))
	assert.False(t, Transient(nil))
}

func TestLiquidityTierString(t *testing.T) {
	assert.Equal(t, "high", TierHigh.String())
	assert.Equal(t, "mid", TierMid.String())
	assert.Equal(t, "low", TierLow.String())
	assert.Equal(t, "unknown", LiquidityTier(0).String())
}
