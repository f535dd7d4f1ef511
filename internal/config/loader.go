package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MICROSCALP_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MICROSCALP_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Account ──
	setFloat64(&cfg.Account.InitialCapital, "MICROSCALP_INITIAL_CAPITAL")

	// ── Risk ──
	setInt(&cfg.Risk.MaxConcurrentTrades, "MICROSCALP_RISK_MAX_CONCURRENT_TRADES")
	setFloat64(&cfg.Risk.DailyLossLimit, "MICROSCALP_RISK_DAILY_LOSS_LIMIT")
	setFloat64(&cfg.Risk.MaxDrawdownLimit, "MICROSCALP_RISK_MAX_DRAWDOWN_LIMIT")
	setFloat64(&cfg.Risk.CircuitBreakerLimit, "MICROSCALP_RISK_CIRCUIT_BREAKER_LIMIT")
	setFloat64(&cfg.Risk.MinPositionSize, "MICROSCALP_RISK_MIN_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxPositionSize, "MICROSCALP_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.ScalpTakeProfit, "MICROSCALP_RISK_SCALP_TAKE_PROFIT")
	setFloat64(&cfg.Risk.ScalpStopLoss, "MICROSCALP_RISK_SCALP_STOP_LOSS")
	setInt(&cfg.Risk.MaxHoldTimeSec, "MICROSCALP_RISK_MAX_HOLD_TIME_SEC")

	// ── Scanner ──
	setInt(&cfg.Scanner.ScanIntervalSec, "MICROSCALP_SCANNER_SCAN_INTERVAL_SEC")
	setInt(&cfg.Scanner.UniverseSize, "MICROSCALP_SCANNER_UNIVERSE_SIZE")
	setInt(&cfg.Scanner.UniverseRefreshSec, "MICROSCALP_SCANNER_UNIVERSE_REFRESH_SEC")
	setFloat64(&cfg.Scanner.Min24hVolume, "MICROSCALP_SCANNER_MIN_24H_VOLUME")
	setFloat64(&cfg.Scanner.MinConfidence, "MICROSCALP_SCANNER_MIN_CONFIDENCE")

	// ── Monitor / Performance ──
	setInt(&cfg.Monitor.IntervalSec, "MICROSCALP_MONITOR_INTERVAL_SEC")
	setInt(&cfg.Monitor.ShutdownTimeoutSec, "MICROSCALP_MONITOR_SHUTDOWN_TIMEOUT_SEC")
	setInt(&cfg.Performance.SnapshotIntervalSec, "MICROSCALP_SNAPSHOT_INTERVAL_SEC")

	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "MICROSCALP_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WsURL, "MICROSCALP_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.ApiKey, "MICROSCALP_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "MICROSCALP_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "MICROSCALP_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "MICROSCALP_EXCHANGE_SECRET_PASSWORD")
	setBool(&cfg.Exchange.Testnet, "MICROSCALP_EXCHANGE_TESTNET")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MICROSCALP_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MICROSCALP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MICROSCALP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MICROSCALP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MICROSCALP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MICROSCALP_REDIS_MAX_RETRIES")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MICROSCALP_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MICROSCALP_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MICROSCALP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MICROSCALP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MICROSCALP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MICROSCALP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MICROSCALP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MICROSCALP_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "MICROSCALP_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MICROSCALP_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MICROSCALP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MICROSCALP_S3_REGION")
	setStr(&cfg.S3.Bucket, "MICROSCALP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MICROSCALP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MICROSCALP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MICROSCALP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MICROSCALP_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveIntervalSec, "MICROSCALP_S3_ARCHIVE_INTERVAL_SEC")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MICROSCALP_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MICROSCALP_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "MICROSCALP_DISCORD_WEBHOOK")

	// ── Journal / top-level ──
	setBool(&cfg.Journal.Enabled, "MICROSCALP_JOURNAL_ENABLED")
	setStr(&cfg.Journal.Dir, "MICROSCALP_JOURNAL_DIR")
	setStr(&cfg.Mode, "MICROSCALP_MODE")
	setStr(&cfg.LogLevel, "MICROSCALP_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
