package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/domain"
)

// actionBook builds a tight book around mid with the given top-of-book bid
// size, which the strategy reads as the volume sample.
func actionBook(t *testing.T, mid, bidSize float64, ts time.Time) *domain.OrderBook {
	t.Helper()
	b := domain.NewOrderBook("BTC/USDT", "paper", 20)
	b.Replace(
		[]domain.Level{{Price: mid - 0.01, Size: bidSize}},
		[]domain.Level{{Price: mid + 0.01, Size: bidSize}},
		ts,
	)
	return b
}

func TestPriceActionEntersLongOnRetracedImpulse(t *testing.T) {
	cfg := PriceActionDefaults()
	cfg.Symbols = []string{"BTC/USDT"}
	s := NewPriceAction(cfg)

	now := time.Now()
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.0, 10, now.Add(-4*time.Second)))
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.5, 10, now.Add(-2*time.Second)))
	// Pullback to 40% of the impulse, on 4x the prior volume.
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.3, 40, now))

	sig := s.EvaluateEntry("BTC/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalSideLong, sig.Side)
	assert.Equal(t, "price_action", sig.Strategy)
	assert.Greater(t, sig.TakeProfit, sig.EntryPrice)
	assert.Less(t, sig.StopLoss, sig.EntryPrice)
}

func TestPriceActionEntersShortOnDownImpulse(t *testing.T) {
	cfg := PriceActionDefaults()
	cfg.Symbols = []string{"BTC/USDT"}
	s := NewPriceAction(cfg)

	now := time.Now()
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.0, 10, now.Add(-4*time.Second)))
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 99.5, 10, now.Add(-2*time.Second)))
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 99.7, 40, now))

	sig := s.EvaluateEntry("BTC/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalSideShort, sig.Side)
	assert.Less(t, sig.TakeProfit, sig.EntryPrice)
	assert.Greater(t, sig.StopLoss, sig.EntryPrice)
}

func TestPriceActionRequiresVolumeSpike(t *testing.T) {
	cfg := PriceActionDefaults()
	cfg.Symbols = []string{"BTC/USDT"}
	s := NewPriceAction(cfg)

	now := time.Now()
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.0, 10, now.Add(-4*time.Second)))
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.5, 10, now.Add(-2*time.Second)))
	// Same shape as the long entry, but volume stays flat.
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.3, 10, now))

	assert.Nil(t, s.EvaluateEntry("BTC/USDT"))
}

func TestPriceActionRejectsOutsideRetracementBand(t *testing.T) {
	cfg := PriceActionDefaults()
	cfg.Symbols = []string{"BTC/USDT"}
	s := NewPriceAction(cfg)

	now := time.Now()
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.0, 10, now.Add(-4*time.Second)))
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.2, 10, now.Add(-2*time.Second)))
	// Price still at the impulse extreme: no pullback yet.
	s.OnOrderBookUpdate("BTC/USDT", actionBook(t, 100.5, 40, now))

	assert.Nil(t, s.EvaluateEntry("BTC/USDT"))
}

func TestPriceActionExitsOnMaxHoldTime(t *testing.T) {
	cfg := PriceActionDefaults()
	cfg.Symbols = []string{"BTC/USDT"}
	s := NewPriceAction(cfg)

	fresh := &domain.Position{Symbol: "BTC/USDT", OpenedAt: time.Now()}
	assert.False(t, s.EvaluateExit(fresh))

	stale := &domain.Position{Symbol: "BTC/USDT", OpenedAt: time.Now().Add(-2 * time.Minute)}
	assert.True(t, s.EvaluateExit(stale))
}

func TestPriceActionThresholdAdaptation(t *testing.T) {
	cfg := PriceActionDefaults()
	cfg.Symbols = []string{"BTC/USDT"}
	s := NewPriceAction(cfg)

	base := s.impulsePct
	s.OnTradeClosed(false)
	assert.InDelta(t, base*1.1, s.impulsePct, 1e-9, "losses tighten the threshold")

	for i := 0; i < 10; i++ {
		s.OnTradeClosed(true)
	}
	assert.Equal(t, base, s.impulsePct)
}
