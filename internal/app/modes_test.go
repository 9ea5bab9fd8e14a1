package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/config"
)

func testApp(cfg config.Config) *App {
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTradeSymbolsIncludesPairLegs(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.Symbols = []string{"BTC/USDT", "ETH/USDT"}
	cfg.Strategies.PairSpread.Enabled = true
	cfg.Strategies.PairSpread.Symbol = "ETH/USDT"
	cfg.Strategies.PairSpread.RefSymbol = "BTC/USD"

	symbols := testApp(cfg).tradeSymbols()
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT", "BTC/USD"}, symbols)
}

func TestTradeSymbolsDeduplicates(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.Symbols = []string{"BTC/USDT", "BTC/USDT"}

	symbols := testApp(cfg).tradeSymbols()
	assert.Equal(t, []string{"BTC/USDT"}, symbols)
}

func TestNewStrategyRegistryRegistersEnabled(t *testing.T) {
	cfg := config.Defaults() // imbalance, volume_impulse, price_action enabled

	reg, err := testApp(cfg).newStrategyRegistry()
	require.NoError(t, err)

	_, ok := reg.Get("imbalance")
	assert.True(t, ok)
	_, ok = reg.Get("volume_impulse")
	assert.True(t, ok)
	_, ok = reg.Get("price_action")
	assert.True(t, ok)
	_, ok = reg.Get("pair_spread")
	assert.False(t, ok)
}

func TestNewStrategyRegistryComposite(t *testing.T) {
	cfg := config.Defaults()
	cfg.Strategies.Composite.Enabled = true
	cfg.Strategies.Composite.Quorum = 2

	reg, err := testApp(cfg).newStrategyRegistry()
	require.NoError(t, err)

	// Only the fused strategy is registered; the subs vote inside it.
	_, ok := reg.Get("composite")
	assert.True(t, ok)
	_, ok = reg.Get("imbalance")
	assert.False(t, ok)
}
