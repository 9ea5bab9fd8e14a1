package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Risk.InitialBalance = 0
	cfg.Risk.MaxPositionSizePct = 2 // not a fraction
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "initial_balance")
	assert.Contains(t, err.Error(), "max_position_size_pct")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidatePriceActionRetracementBand(t *testing.T) {
	cfg := Defaults()
	cfg.Strategies.PriceAction.RetracementMin = 0.5
	cfg.Strategies.PriceAction.RetracementMax = 0.4

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retracement_max")
}

func TestValidateTradeModeRequiresVenue(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue: ws_url")
	assert.Contains(t, err.Error(), "venue: api_key")

	cfg.Venue.WSURL = "wss://stream.example.com/ws"
	cfg.Venue.RESTURL = "https://api.example.com"
	cfg.Venue.APIKey = "key"
	cfg.Venue.APISecret = "secret"
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "paper"
log_level = "debug"

[engine]
symbols = ["ETH/USDT", "BTC/USDT"]
monitor_interval = "50ms"

[risk]
initial_balance = 25000.0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"ETH/USDT", "BTC/USDT"}, cfg.Engine.Symbols)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.MonitorInterval.Duration)
	assert.Equal(t, 25_000.0, cfg.Risk.InitialBalance)
	// Untouched sections keep their defaults.
	assert.Equal(t, 20.0, cfg.Risk.MaxDrawdownPct)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGNALBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SIGNALBOT_RISK_MAX_DRAWDOWN_PCT", "15")
	t.Setenv("SIGNALBOT_ENGINE_SYMBOLS", "SOL/USDT, DOGE/USDT")
	t.Setenv("SIGNALBOT_RISK_PAUSE_DURATION", "2m")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 15.0, cfg.Risk.MaxDrawdownPct)
	assert.Equal(t, []string{"SOL/USDT", "DOGE/USDT"}, cfg.Engine.Symbols)
	assert.Equal(t, 2*time.Minute, cfg.Risk.PauseDuration.Duration)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Venue.APISecret = "topsecret"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "bot-token"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Venue.APISecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// The original is untouched.
	assert.Equal(t, "topsecret", cfg.Venue.APISecret)
}
