package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

func TestPriceCache(t *testing.T) {
	pc := NewPriceCache()
	ctx := context.Background()

	_, _, err := pc.GetPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pc.SetPrice(ctx, "BTCUSDT", 50000, ts))

	price, gotTS, err := pc.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, price)
	assert.Equal(t, ts, gotTS)

	// Later writes win.
	require.NoError(t, pc.SetPrice(ctx, "BTCUSDT", 50100, ts.Add(time.Second)))
	price, _, err = pc.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50100.0, price)
}

func TestPriceCacheConcurrent(t *testing.T) {
	pc := NewPriceCache()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = pc.SetPrice(ctx, "BTCUSDT", float64(i), time.Now())
		}
	}()
	for i := 0; i < 1000; i++ {
		_, _, _ = pc.GetPrice(ctx, "BTCUSDT")
	}
	<-done
}
