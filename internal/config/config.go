// Package config defines the top-level configuration for the scalping bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MICROSCALP_* environment
// variables. All values are read once at startup; runtime changes are not
// supported mid-run.
type Config struct {
	Account     AccountConfig     `toml:"account"`
	Risk        RiskConfig        `toml:"risk"`
	Scanner     ScannerConfig     `toml:"scanner"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Performance PerformanceConfig `toml:"performance"`
	Exchange    ExchangeConfig    `toml:"exchange"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Journal     JournalConfig     `toml:"journal"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// AccountConfig holds the capital parameters.
type AccountConfig struct {
	InitialCapital float64 `toml:"initial_capital"`
}

// RiskConfig holds the risk limits enforced by the risk manager.
type RiskConfig struct {
	MaxConcurrentTrades int     `toml:"max_concurrent_trades"`
	DailyLossLimit      float64 `toml:"daily_loss_limit"`
	MaxDrawdownLimit    float64 `toml:"max_drawdown_limit"`
	CircuitBreakerLimit float64 `toml:"circuit_breaker_limit"`
	MinPositionSize     float64 `toml:"min_position_size"`
	MaxPositionSize     float64 `toml:"max_position_size"`
	ScalpTakeProfit     float64 `toml:"scalp_take_profit"`
	ScalpStopLoss       float64 `toml:"scalp_stop_loss"`
	MaxHoldTimeSec      int     `toml:"max_hold_time_sec"`
}

// Limits converts the config into the immutable domain.RiskLimits passed to
// the risk manager.
func (r RiskConfig) Limits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxConcurrentTrades: r.MaxConcurrentTrades,
		DailyLossLimit:      r.DailyLossLimit,
		MaxDrawdownLimit:    r.MaxDrawdownLimit,
		CircuitBreakerLimit: r.CircuitBreakerLimit,
		MinPositionSize:     r.MinPositionSize,
		MaxPositionSize:     r.MaxPositionSize,
		TakeProfit:          r.ScalpTakeProfit,
		StopLoss:            r.ScalpStopLoss,
		MaxHoldTime:         time.Duration(r.MaxHoldTimeSec) * time.Second,
	}
}

// ScannerConfig holds universe and scan-cycle parameters.
type ScannerConfig struct {
	ScanIntervalSec    int     `toml:"scan_interval_sec"`
	UniverseSize       int     `toml:"universe_size"`
	UniverseRefreshSec int     `toml:"universe_refresh_sec"`
	Min24hVolume       float64 `toml:"min_24h_volume"`
	MinConfidence      float64 `toml:"min_confidence"`
	KlineLimit         int     `toml:"kline_limit"`
}

// MonitorConfig holds the position-monitor polling parameters.
type MonitorConfig struct {
	IntervalSec        int `toml:"interval_sec"`
	ShutdownTimeoutSec int `toml:"shutdown_timeout_sec"`
}

// PerformanceConfig holds snapshot timing.
type PerformanceConfig struct {
	SnapshotIntervalSec int `toml:"snapshot_interval_sec"`
}

// ExchangeConfig holds exchange API endpoints and credentials. The API secret
// may be supplied raw or as an encrypted file plus password.
type ExchangeConfig struct {
	BaseURL             string `toml:"base_url"`
	WsURL               string `toml:"ws_url"`
	ApiKey              string `toml:"api_key"`
	ApiSecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	Testnet             bool   `toml:"testnet"`
}

// RedisConfig holds Redis connection parameters for the price cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade and
// snapshot stores.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for journal
// archiving.
type S3Config struct {
	Enabled            bool   `toml:"enabled"`
	Endpoint           string `toml:"endpoint"`
	Region             string `toml:"region"`
	Bucket             string `toml:"bucket"`
	AccessKey          string `toml:"access_key"`
	SecretKey          string `toml:"secret_key"`
	UseSSL             bool   `toml:"use_ssl"`
	ForcePathStyle     bool   `toml:"force_path_style"`
	ArchiveIntervalSec int    `toml:"archive_interval_sec"`
}

// JournalConfig holds the local event-log settings. Disabling the journal
// drops event recording entirely, including the S3 segment archive.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// NotifyConfig holds operator alert channels. Channels with empty credentials
// are skipped; an empty Events list forwards every event type.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// Defaults returns a Config populated with the stock micro-account values.
func Defaults() Config {
	return Config{
		Account: AccountConfig{
			InitialCapital: 100.00,
		},
		Risk: RiskConfig{
			MaxConcurrentTrades: 8,
			DailyLossLimit:      0.10,
			MaxDrawdownLimit:    0.20,
			CircuitBreakerLimit: 0.15,
			MinPositionSize:     5.00,
			MaxPositionSize:     15.00,
			ScalpTakeProfit:     0.015,
			ScalpStopLoss:       0.010,
			MaxHoldTimeSec:      300,
		},
		Scanner: ScannerConfig{
			ScanIntervalSec:    300,
			UniverseSize:       50,
			UniverseRefreshSec: 3600,
			Min24hVolume:       1_000_000,
			MinConfidence:      0.6,
			KlineLimit:         50,
		},
		Monitor: MonitorConfig{
			IntervalSec:        5,
			ShutdownTimeoutSec: 30,
		},
		Performance: PerformanceConfig{
			SnapshotIntervalSec: 300,
		},
		Exchange: ExchangeConfig{
			BaseURL: "https://api.bybit.com",
			WsURL:   "wss://stream.bybit.com/v5/public/linear",
			Testnet: false,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "microscalp",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:            false,
			Endpoint:           "http://localhost:9000",
			Region:             "us-east-1",
			Bucket:             "microscalp-journal",
			UseSSL:             false,
			ForcePathStyle:     true,
			ArchiveIntervalSec: 3600,
		},
		Journal: JournalConfig{
			Enabled: true,
			Dir:     "journal",
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. A validation failure is fatal: the
// scheduler never starts on a bad configuration.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Account.InitialCapital <= 0 {
		errs = append(errs, "account: initial_capital must be > 0")
	}

	// Risk limits.
	if c.Risk.MaxConcurrentTrades < 1 {
		errs = append(errs, "risk: max_concurrent_trades must be >= 1")
	}
	if c.Risk.DailyLossLimit <= 0 || c.Risk.DailyLossLimit >= 1 {
		errs = append(errs, "risk: daily_loss_limit must be a fraction in (0, 1)")
	}
	if c.Risk.MaxDrawdownLimit <= 0 || c.Risk.MaxDrawdownLimit >= 1 {
		errs = append(errs, "risk: max_drawdown_limit must be a fraction in (0, 1)")
	}
	if c.Risk.CircuitBreakerLimit <= 0 || c.Risk.CircuitBreakerLimit >= 1 {
		errs = append(errs, "risk: circuit_breaker_limit must be a fraction in (0, 1)")
	}
	if c.Risk.MinPositionSize <= 0 {
		errs = append(errs, "risk: min_position_size must be > 0")
	}
	if c.Risk.MaxPositionSize < c.Risk.MinPositionSize {
		errs = append(errs, "risk: max_position_size must be >= min_position_size")
	}
	if c.Risk.ScalpTakeProfit <= 0 {
		errs = append(errs, "risk: scalp_take_profit must be > 0")
	}
	if c.Risk.ScalpStopLoss <= 0 {
		errs = append(errs, "risk: scalp_stop_loss must be > 0")
	}
	if c.Risk.MaxHoldTimeSec <= 0 {
		errs = append(errs, "risk: max_hold_time_sec must be > 0")
	}

	// Scanner.
	if c.Scanner.ScanIntervalSec <= 0 {
		errs = append(errs, "scanner: scan_interval_sec must be > 0")
	}
	if c.Scanner.UniverseSize < 1 {
		errs = append(errs, "scanner: universe_size must be >= 1")
	}
	if c.Scanner.MinConfidence < 0 || c.Scanner.MinConfidence > 1 {
		errs = append(errs, "scanner: min_confidence must be in [0, 1]")
	}
	if c.Scanner.KlineLimit < 21 {
		errs = append(errs, "scanner: kline_limit must be >= 21 (longest indicator window)")
	}

	// Monitor.
	if c.Monitor.IntervalSec <= 0 {
		errs = append(errs, "monitor: interval_sec must be > 0")
	}
	if c.Monitor.IntervalSec >= c.Scanner.ScanIntervalSec {
		errs = append(errs, "monitor: interval_sec must be shorter than scanner.scan_interval_sec")
	}

	if c.Performance.SnapshotIntervalSec <= 0 {
		errs = append(errs, "performance: snapshot_interval_sec must be > 0")
	}

	// Live mode needs exchange credentials.
	if strings.ToLower(c.Mode) == "live" {
		if c.Exchange.ApiKey == "" {
			errs = append(errs, "exchange: api_key is required for live mode")
		}
		if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set for live mode")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}

	// Redis.
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres.
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
	}

	// S3.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Journal.Enabled && c.Journal.Dir == "" {
		errs = append(errs, "journal: dir must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
