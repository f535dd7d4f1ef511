// Package redis implements domain.PriceCache using go-redis/v9.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// priceTTL bounds how long a cached quote stays readable. The monitor only
// uses the cache as a fallback when the venue is briefly unavailable; a quote
// older than this is worse than no quote.
const priceTTL = 2 * time.Minute

// Config holds the connection parameters the price cache needs.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// PriceCache implements domain.PriceCache using Redis hashes. Each
// instrument's last price is stored at key "price:{instrumentID}" with fields
// "price" and "ts" (Unix millisecond timestamp), expiring after priceTTL.
type PriceCache struct {
	rdb *redis.Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache dials Redis and pings it to verify connectivity before the
// cache is handed to the scanner and monitor.
func NewPriceCache(ctx context.Context, cfg Config) (*PriceCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &PriceCache{rdb: rdb}, nil
}

// Close releases the connection pool.
func (pc *PriceCache) Close() error {
	return pc.rdb.Close()
}

func priceKey(instrumentID string) string {
	return "price:" + instrumentID
}

// SetPrice stores the latest price and observation time for an instrument.
func (pc *PriceCache) SetPrice(ctx context.Context, instrumentID string, price float64, ts time.Time) error {
	key := priceKey(instrumentID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixMilli(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", instrumentID, err)
	}
	return nil
}

// GetPrice retrieves the latest price and observation time for an instrument.
// It returns domain.ErrNotFound when no fresh quote exists.
func (pc *PriceCache) GetPrice(ctx context.Context, instrumentID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(instrumentID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", instrumentID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", instrumentID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsMilli, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", instrumentID, err)
	}

	return price, time.UnixMilli(tsMilli), nil
}
