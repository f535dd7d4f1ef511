// Package memory provides an in-process PriceCache used when no Redis
// instance is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

type entry struct {
	price float64
	ts    time.Time
}

// PriceCache is a mutex-guarded map of last observed prices.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache returns an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{entries: make(map[string]entry)}
}

// SetPrice stores the latest price for an instrument.
func (pc *PriceCache) SetPrice(_ context.Context, instrumentID string, price float64, ts time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.entries[instrumentID] = entry{price: price, ts: ts}
	return nil
}

// GetPrice returns the latest stored price, or domain.ErrNotFound when the
// instrument has never been observed.
func (pc *PriceCache) GetPrice(_ context.Context, instrumentID string) (float64, time.Time, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	e, ok := pc.entries[instrumentID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return e.price, e.ts, nil
}
