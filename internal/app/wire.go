package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/tradecraft-labs/microscalp/internal/blob/s3"
	"github.com/tradecraft-labs/microscalp/internal/cache/memory"
	"github.com/tradecraft-labs/microscalp/internal/cache/redis"
	"github.com/tradecraft-labs/microscalp/internal/config"
	"github.com/tradecraft-labs/microscalp/internal/crypto"
	"github.com/tradecraft-labs/microscalp/internal/domain"
	"github.com/tradecraft-labs/microscalp/internal/journal"
	"github.com/tradecraft-labs/microscalp/internal/platform/bybit"
	"github.com/tradecraft-labs/microscalp/internal/platform/paper"
	"github.com/tradecraft-labs/microscalp/internal/store/postgres"
)

// Dependencies bundles the infrastructure the trading loop runs on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Gateway domain.MarketGateway
	Feed    *bybit.TickerFeed // nil when no websocket URL is configured

	Prices  domain.PriceCache
	Journal domain.Journal

	// Optional persistence; nil implementations are replaced by no-ops in
	// the components that consume them.
	TradeStore    *postgres.TradeStore
	SnapshotStore *postgres.SnapshotStore

	// Archiver ships sealed journal segments to object storage. Nil when S3
	// is not configured.
	Archiver        *s3blob.Archiver
	ArchiveInterval time.Duration
}

// Wire constructs the concrete infrastructure from the configuration and
// returns it with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Price cache: Redis when enabled, in-process map otherwise ---
	if cfg.Redis.Enabled {
		prices, err := redis.NewPriceCache(ctx, redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = prices.Close() })
		deps.Prices = prices
	} else {
		deps.Prices = memory.NewPriceCache()
	}

	// --- PostgreSQL trade and snapshot stores ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	}

	// --- Journal ---
	var jw *journal.Writer
	if cfg.Journal.Enabled {
		var err error
		jw, err = journal.NewWriter(cfg.Journal.Dir, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: journal: %w", err)
		}
		closers = append(closers, func() { _ = jw.Close() })
		deps.Journal = jw
	} else {
		deps.Journal = journal.Nop{}
	}

	// --- S3 journal archiver ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		var segments s3blob.SegmentSource
		if jw != nil {
			segments = jw
		}
		var trades s3blob.TradeLister
		if deps.TradeStore != nil {
			trades = deps.TradeStore
		}
		deps.Archiver = s3blob.NewArchiver(writer, segments, trades, logger)
		deps.ArchiveInterval = time.Duration(cfg.S3.ArchiveIntervalSec) * time.Second
	}

	// --- Market gateway ---
	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Gateway = gateway

	if cfg.Exchange.WsURL != "" {
		deps.Feed = bybit.NewTickerFeed(cfg.Exchange.WsURL, deps.Prices, logger)
	}

	return deps, cleanup, nil
}

// buildGateway returns the live Bybit gateway or the paper simulator
// depending on the configured mode. The paper gateway still reads real
// market data through the Bybit public endpoints.
func buildGateway(cfg *config.Config, logger *slog.Logger) (domain.MarketGateway, error) {
	if cfg.Mode == "live" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Exchange.ApiSecret,
			EncryptedSecretPath: cfg.Exchange.EncryptedSecretPath,
			SecretPassword:      cfg.Exchange.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: api secret: %w", err)
		}
		signer := crypto.NewSigner(cfg.Exchange.ApiKey, secret, 0)
		return bybit.NewClient(cfg.Exchange.BaseURL, signer, cfg.Scanner.KlineLimit, logger), nil
	}

	// Paper mode: public market data, simulated execution. The signer is
	// never exercised because the simulator only calls unsigned endpoints.
	signer := crypto.NewSigner("", "", 0)
	data := bybit.NewClient(cfg.Exchange.BaseURL, signer, cfg.Scanner.KlineLimit, logger)
	return paper.New(data, cfg.Account.InitialCapital, logger), nil
}
