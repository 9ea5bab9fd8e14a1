package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SIGNALBOT_* environment overrides, and returns
// the result. The caller is expected to invoke Config.Validate afterwards.
// An empty path skips the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present; missing files are fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from SIGNALBOT_* environment
// variables so operators can inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// Engine
	setStringSlice(&cfg.Engine.Symbols, "SIGNALBOT_ENGINE_SYMBOLS")
	setInt(&cfg.Engine.BookDepth, "SIGNALBOT_ENGINE_BOOK_DEPTH")
	setInt(&cfg.Engine.QueueSize, "SIGNALBOT_ENGINE_QUEUE_SIZE")
	setDuration(&cfg.Engine.MonitorInterval, "SIGNALBOT_ENGINE_MONITOR_INTERVAL")
	setDuration(&cfg.Engine.MetricsInterval, "SIGNALBOT_ENGINE_METRICS_INTERVAL")

	// Risk
	setFloat64(&cfg.Risk.InitialBalance, "SIGNALBOT_RISK_INITIAL_BALANCE")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "SIGNALBOT_RISK_MAX_DRAWDOWN_PCT")
	setFloat64(&cfg.Risk.MaxPositionSizePct, "SIGNALBOT_RISK_MAX_POSITION_SIZE_PCT")
	setFloat64(&cfg.Risk.MaxTotalRiskPct, "SIGNALBOT_RISK_MAX_TOTAL_RISK_PCT")
	setInt(&cfg.Risk.MaxCorrelatedPositions, "SIGNALBOT_RISK_MAX_CORRELATED_POSITIONS")
	setInt(&cfg.Risk.PauseAfterLosses, "SIGNALBOT_RISK_PAUSE_AFTER_LOSSES")
	setDuration(&cfg.Risk.PauseDuration, "SIGNALBOT_RISK_PAUSE_DURATION")

	// Strategies
	setBool(&cfg.Strategies.Imbalance.Enabled, "SIGNALBOT_STRATEGIES_IMBALANCE_ENABLED")
	setBool(&cfg.Strategies.VolumeImpulse.Enabled, "SIGNALBOT_STRATEGIES_VOLUME_IMPULSE_ENABLED")
	setBool(&cfg.Strategies.PriceAction.Enabled, "SIGNALBOT_STRATEGIES_PRICE_ACTION_ENABLED")
	setBool(&cfg.Strategies.PairSpread.Enabled, "SIGNALBOT_STRATEGIES_PAIR_SPREAD_ENABLED")
	setBool(&cfg.Strategies.Composite.Enabled, "SIGNALBOT_STRATEGIES_COMPOSITE_ENABLED")
	setInt(&cfg.Strategies.Composite.Quorum, "SIGNALBOT_STRATEGIES_COMPOSITE_QUORUM")

	// Paper
	setFloat64(&cfg.Paper.Balance, "SIGNALBOT_PAPER_BALANCE")
	setDuration(&cfg.Paper.FeedInterval, "SIGNALBOT_PAPER_FEED_INTERVAL")
	setFloat64(&cfg.Paper.StartPrice, "SIGNALBOT_PAPER_START_PRICE")
	setFloat64(&cfg.Paper.VolatilityPct, "SIGNALBOT_PAPER_VOLATILITY_PCT")

	// Venue
	setStr(&cfg.Venue.Name, "SIGNALBOT_VENUE_NAME")
	setStr(&cfg.Venue.WSURL, "SIGNALBOT_VENUE_WS_URL")
	setStr(&cfg.Venue.RESTURL, "SIGNALBOT_VENUE_REST_URL")
	setStr(&cfg.Venue.APIKey, "SIGNALBOT_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "SIGNALBOT_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "SIGNALBOT_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "SIGNALBOT_VENUE_SECRET_PASSWORD")
	setDuration(&cfg.Venue.PollInterval, "SIGNALBOT_VENUE_POLL_INTERVAL")
	setInt(&cfg.Venue.OrderRateLimit, "SIGNALBOT_VENUE_ORDER_RATE_LIMIT")
	setDuration(&cfg.Venue.OrderRateWindow, "SIGNALBOT_VENUE_ORDER_RATE_WINDOW")

	// Postgres
	setStr(&cfg.Postgres.DSN, "SIGNALBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SIGNALBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIGNALBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIGNALBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIGNALBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIGNALBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIGNALBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SIGNALBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIGNALBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIGNALBOT_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "SIGNALBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGNALBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGNALBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGNALBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIGNALBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIGNALBOT_REDIS_TLS_ENABLED")

	// S3
	setStr(&cfg.S3.Endpoint, "SIGNALBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SIGNALBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SIGNALBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SIGNALBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SIGNALBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SIGNALBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SIGNALBOT_S3_FORCE_PATH_STYLE")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "SIGNALBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGNALBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGNALBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGNALBOT_NOTIFY_EVENTS")

	// Retention
	setBool(&cfg.Retention.Enabled, "SIGNALBOT_RETENTION_ENABLED")
	setDuration(&cfg.Retention.MaxAge, "SIGNALBOT_RETENTION_MAX_AGE")
	setDuration(&cfg.Retention.Interval, "SIGNALBOT_RETENTION_INTERVAL")

	// Top-level
	setStr(&cfg.Mode, "SIGNALBOT_MODE")
	setStr(&cfg.LogLevel, "SIGNALBOT_LOG_LEVEL")
}

// Typed env-var helpers. Each mutates the target only when the variable is
// present and parses cleanly.

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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
