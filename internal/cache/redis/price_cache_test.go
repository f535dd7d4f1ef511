package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPriceCacheUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pc, err := NewPriceCache(ctx, Config{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Nil(t, pc)
	assert.Contains(t, err.Error(), "redis: ping")
}

func TestPriceKey(t *testing.T) {
	assert.Equal(t, "price:BTCUSDT", priceKey("BTCUSDT"))
}
