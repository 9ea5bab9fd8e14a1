// Package config defines the top-level configuration for the signal trading
// engine and provides loading and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by SIGNALBOT_* environment variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Risk       RiskConfig       `toml:"risk"`
	Strategies StrategiesConfig `toml:"strategies"`
	Paper      PaperConfig      `toml:"paper"`
	Venue      VenueConfig      `toml:"venue"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Retention  RetentionConfig  `toml:"retention"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds trading-core parameters.
type EngineConfig struct {
	Symbols         []string `toml:"symbols"`
	BookDepth       int      `toml:"book_depth"`
	QueueSize       int      `toml:"queue_size"`
	MonitorInterval duration `toml:"monitor_interval"`
	MetricsInterval duration `toml:"metrics_interval"`
	DrainTimeout    duration `toml:"drain_timeout"`
}

// RiskConfig holds portfolio risk limits. Drawdown limits are percentages;
// size and exposure limits are fractions of the account balance.
type RiskConfig struct {
	InitialBalance         float64  `toml:"initial_balance"`
	MaxDrawdownPct         float64  `toml:"max_drawdown_pct"`
	MaxPositionSizePct     float64  `toml:"max_position_size_pct"`
	MaxTotalRiskPct        float64  `toml:"max_total_risk_pct"`
	MaxCorrelatedPositions int      `toml:"max_correlated_positions"`
	PauseAfterLosses       int      `toml:"pause_after_losses"`
	PauseDuration          duration `toml:"pause_duration"`
	CorrelationWindow      int      `toml:"correlation_window"`
}

// StrategiesConfig selects and tunes the signal strategies.
type StrategiesConfig struct {
	Imbalance     ImbalanceConfig     `toml:"imbalance"`
	VolumeImpulse VolumeImpulseConfig `toml:"volume_impulse"`
	PriceAction   PriceActionConfig   `toml:"price_action"`
	PairSpread    PairSpreadConfig    `toml:"pair_spread"`
	Composite     CompositeConfig     `toml:"composite"`
}

// ImbalanceConfig tunes the orderbook-imbalance strategy.
type ImbalanceConfig struct {
	Enabled          bool    `toml:"enabled"`
	ImbalanceRatio   float64 `toml:"imbalance_ratio"`
	Levels           int     `toml:"levels"`
	LargeOrderSize   float64 `toml:"large_order_size"`
	MaxVolatilityPct float64 `toml:"max_volatility_pct"`
	MinDepthQuote    float64 `toml:"min_depth_quote"`
	MaxSpreadPct     float64 `toml:"max_spread_pct"`
	TakeProfitPct    float64 `toml:"take_profit_pct"`
	StopLossPct      float64 `toml:"stop_loss_pct"`
	BaseSize         float64 `toml:"base_size"`
}

// VolumeImpulseConfig tunes the volume-impulse strategy.
type VolumeImpulseConfig struct {
	Enabled           bool     `toml:"enabled"`
	SpikeRatio        float64  `toml:"spike_ratio"`
	Window            duration `toml:"window"`
	MinPriceChangePct float64  `toml:"min_price_change_pct"`
	TakeProfitPct     float64  `toml:"take_profit_pct"`
	StopLossPct       float64  `toml:"stop_loss_pct"`
	BaseSize          float64  `toml:"base_size"`
}

// PriceActionConfig tunes the impulse-retracement strategy.
type PriceActionConfig struct {
	Enabled        bool     `toml:"enabled"`
	MinImpulsePct  float64  `toml:"min_impulse_pct"`
	VolumeRatio    float64  `toml:"volume_ratio"`
	RetracementMin float64  `toml:"retracement_min"`
	RetracementMax float64  `toml:"retracement_max"`
	Window         duration `toml:"window"`
	MaxHoldTime    duration `toml:"max_hold_time"`
	TakeProfitPct  float64  `toml:"take_profit_pct"`
	StopLossPct    float64  `toml:"stop_loss_pct"`
	BaseSize       float64  `toml:"base_size"`
}

// PairSpreadConfig tunes the pair mean-reversion strategy.
type PairSpreadConfig struct {
	Enabled       bool     `toml:"enabled"`
	Symbol        string   `toml:"symbol"`
	RefSymbol     string   `toml:"ref_symbol"`
	Window        duration `toml:"window"`
	MinSamples    int      `toml:"min_samples"`
	EntryZ        float64  `toml:"entry_z"`
	ExitZ         float64  `toml:"exit_z"`
	TakeProfitPct float64  `toml:"take_profit_pct"`
	StopLossPct   float64  `toml:"stop_loss_pct"`
	BaseSize      float64  `toml:"base_size"`
}

// CompositeConfig fuses the enabled strategies behind a quorum vote.
type CompositeConfig struct {
	Enabled bool `toml:"enabled"`
	Quorum  int  `toml:"quorum"`
}

// PaperConfig holds the simulated venue parameters for paper mode. When the
// venue section carries stream URLs the paper venue mirrors live books;
// otherwise a random-walk simulator generates them.
type PaperConfig struct {
	Balance       float64  `toml:"balance"`
	FeedInterval  duration `toml:"feed_interval"`
	StartPrice    float64  `toml:"start_price"`
	VolatilityPct float64  `toml:"volatility_pct"`
}

// VenueConfig holds the live venue connection and credentials.
type VenueConfig struct {
	Name                string   `toml:"name"`
	WSURL               string   `toml:"ws_url"`
	RESTURL             string   `toml:"rest_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	PollInterval        duration `toml:"poll_interval"`
	OrderRateLimit      int      `toml:"order_rate_limit"`
	OrderRateWindow     duration `toml:"order_rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// RetentionConfig controls trade-history archiving to object storage.
type RetentionConfig struct {
	Enabled  bool     `toml:"enabled"`
	MaxAge   duration `toml:"max_age"`
	Interval duration `toml:"interval"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the standard parameter set.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Symbols:         []string{"BTC/USDT"},
			BookDepth:       20,
			QueueSize:       256,
			MonitorInterval: duration{100 * time.Millisecond},
			MetricsInterval: duration{10 * time.Second},
			DrainTimeout:    duration{5 * time.Second},
		},
		Risk: RiskConfig{
			InitialBalance:         10_000,
			MaxDrawdownPct:         20,
			MaxPositionSizePct:     0.05,
			MaxTotalRiskPct:        0.30,
			MaxCorrelatedPositions: 2,
			PauseAfterLosses:       3,
			PauseDuration:          duration{300 * time.Second},
			CorrelationWindow:      100,
		},
		Strategies: StrategiesConfig{
			Imbalance: ImbalanceConfig{
				Enabled:          true,
				ImbalanceRatio:   3.0,
				Levels:           5,
				MaxVolatilityPct: 2.0,
				MinDepthQuote:    10_000,
				MaxSpreadPct:     0.5,
				TakeProfitPct:    0.6,
				StopLossPct:      0.3,
				BaseSize:         0.01,
			},
			VolumeImpulse: VolumeImpulseConfig{
				Enabled:           true,
				SpikeRatio:        2.5,
				Window:            duration{10 * time.Minute},
				MinPriceChangePct: 0.2,
				TakeProfitPct:     0.8,
				StopLossPct:       0.4,
				BaseSize:          0.01,
			},
			PriceAction: PriceActionConfig{
				Enabled:        true,
				MinImpulsePct:  0.3,
				VolumeRatio:    2.0,
				RetracementMin: 0.3,
				RetracementMax: 0.5,
				Window:         duration{10 * time.Second},
				MaxHoldTime:    duration{60 * time.Second},
				TakeProfitPct:  0.3,
				StopLossPct:    0.15,
				BaseSize:       0.01,
			},
			PairSpread: PairSpreadConfig{
				Enabled:       false,
				Window:        duration{15 * time.Minute},
				MinSamples:    30,
				EntryZ:        2.0,
				ExitZ:         0.5,
				TakeProfitPct: 0.6,
				StopLossPct:   0.3,
				BaseSize:      0.01,
			},
			Composite: CompositeConfig{
				Enabled: false,
				Quorum:  2,
			},
		},
		Paper: PaperConfig{
			Balance:       10_000,
			FeedInterval:  duration{500 * time.Millisecond},
			StartPrice:    100,
			VolatilityPct: 0.05,
		},
		Venue: VenueConfig{
			Name:            "venue",
			PollInterval:    duration{2 * time.Second},
			OrderRateLimit:  10,
			OrderRateWindow: duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "signalbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "signalbot-archive",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "emergency"},
		},
		Retention: RetentionConfig{
			Enabled:  false,
			MaxAge:   duration{90 * 24 * time.Hour},
			Interval: duration{24 * time.Hour},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"trade": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, trade)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: at least one symbol is required")
	}
	if c.Engine.BookDepth < 1 {
		errs = append(errs, "engine: book_depth must be >= 1")
	}
	if c.Engine.MonitorInterval.Duration <= 0 {
		errs = append(errs, "engine: monitor_interval must be positive")
	}

	// Risk
	if c.Risk.InitialBalance <= 0 {
		errs = append(errs, "risk: initial_balance must be > 0")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown_pct must be in (0, 100], got %v", c.Risk.MaxDrawdownPct))
	}
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_position_size_pct must be a fraction in (0, 1], got %v", c.Risk.MaxPositionSizePct))
	}
	if c.Risk.MaxTotalRiskPct <= 0 || c.Risk.MaxTotalRiskPct > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_total_risk_pct must be a fraction in (0, 1], got %v", c.Risk.MaxTotalRiskPct))
	}
	if c.Risk.MaxPositionSizePct > c.Risk.MaxTotalRiskPct {
		errs = append(errs, "risk: max_position_size_pct must not exceed max_total_risk_pct")
	}

	// Strategies
	if !c.Strategies.Imbalance.Enabled && !c.Strategies.VolumeImpulse.Enabled &&
		!c.Strategies.PriceAction.Enabled && !c.Strategies.PairSpread.Enabled {
		errs = append(errs, "strategies: at least one strategy must be enabled")
	}
	if c.Strategies.PriceAction.Enabled &&
		c.Strategies.PriceAction.RetracementMax <= c.Strategies.PriceAction.RetracementMin {
		errs = append(errs, "strategies.price_action: retracement_max must exceed retracement_min")
	}
	if c.Strategies.PairSpread.Enabled {
		if c.Strategies.PairSpread.Symbol == "" || c.Strategies.PairSpread.RefSymbol == "" {
			errs = append(errs, "strategies.pair_spread: symbol and ref_symbol are required when enabled")
		}
	}
	if c.Strategies.Composite.Enabled && c.Strategies.Composite.Quorum < 2 {
		errs = append(errs, "strategies.composite: quorum must be >= 2")
	}

	// Venue — only required for live trading.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Venue.WSURL == "" {
			errs = append(errs, "venue: ws_url is required for trade mode")
		}
		if c.Venue.RESTURL == "" {
			errs = append(errs, "venue: rest_url is required for trade mode")
		}
		if c.Venue.APIKey == "" {
			errs = append(errs, "venue: api_key is required for trade mode")
		}
		if c.Venue.APISecret == "" && c.Venue.EncryptedSecretPath == "" {
			errs = append(errs, "venue: either api_secret or encrypted_secret_path must be set for trade mode")
		}
		if c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
			errs = append(errs, "venue: secret_password is required when encrypted_secret_path is set")
		}
	}
	if strings.ToLower(c.Mode) == "paper" {
		if c.Paper.Balance <= 0 {
			errs = append(errs, "paper: balance must be > 0")
		}
		if c.Paper.FeedInterval.Duration <= 0 {
			errs = append(errs, "paper: feed_interval must be positive")
		}
	}

	// Postgres
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
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Retention
	if c.Retention.Enabled {
		if c.Retention.MaxAge.Duration <= 0 {
			errs = append(errs, "retention: max_age must be positive when enabled")
		}
		if c.Retention.Interval.Duration <= 0 {
			errs = append(errs, "retention: interval must be positive when enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when retention is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when retention is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
