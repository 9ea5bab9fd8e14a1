package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/domain"
)

func pairBook(t *testing.T, symbol string, mid float64, ts time.Time) *domain.OrderBook {
	t.Helper()
	b := domain.NewOrderBook(symbol, "paper", 20)
	b.Replace(
		[]domain.Level{{Price: mid - 0.05, Size: 5}},
		[]domain.Level{{Price: mid + 0.05, Size: 5}},
		ts,
	)
	return b
}

func pairSpreadForTest() *PairSpread {
	cfg := PairSpreadDefaults()
	cfg.Symbol = "ETH/USDT"
	cfg.RefSymbol = "BTC/USDT"
	cfg.MinSamples = 5
	return NewPairSpread(cfg)
}

// feedSpreads pins the reference leg at 100 and walks the traded leg
// through the given mids, one spread sample per mid.
func feedSpreads(t *testing.T, s *PairSpread, mids []float64) {
	t.Helper()
	now := time.Now()
	start := now.Add(-time.Duration(len(mids)) * time.Second)
	s.OnOrderBookUpdate("BTC/USDT", pairBook(t, "BTC/USDT", 100.0, start))
	for i, mid := range mids {
		ts := start.Add(time.Duration(i+1) * time.Second)
		s.OnOrderBookUpdate("ETH/USDT", pairBook(t, "ETH/USDT", mid, ts))
	}
}

func TestPairSpreadShortsRichLeg(t *testing.T) {
	s := pairSpreadForTest()

	// Spread oscillates around -90, then the traded leg jumps rich.
	feedSpreads(t, s, []float64{10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 11.0})

	sig := s.EvaluateEntry("ETH/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalSideShort, sig.Side)
	assert.Equal(t, "pair_spread", sig.Strategy)
	assert.Less(t, sig.TakeProfit, sig.EntryPrice)
	assert.Greater(t, sig.StopLoss, sig.EntryPrice)
}

func TestPairSpreadBuysCheapLeg(t *testing.T) {
	s := pairSpreadForTest()

	feedSpreads(t, s, []float64{10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 9.0})

	sig := s.EvaluateEntry("ETH/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalSideLong, sig.Side)
}

func TestPairSpreadOnlyTradedLegSignals(t *testing.T) {
	s := pairSpreadForTest()

	feedSpreads(t, s, []float64{10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 11.0})

	assert.Nil(t, s.EvaluateEntry("BTC/USDT"))
}

func TestPairSpreadNeedsMinSamples(t *testing.T) {
	s := pairSpreadForTest()

	feedSpreads(t, s, []float64{10.0, 12.0})

	assert.Nil(t, s.EvaluateEntry("ETH/USDT"))
}

func TestPairSpreadExitOnReversion(t *testing.T) {
	s := pairSpreadForTest()
	pos := &domain.Position{Symbol: "ETH/USDT", Side: domain.SignalSideShort}

	// Still dislocated: hold.
	feedSpreads(t, s, []float64{10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 11.0})
	assert.False(t, s.EvaluateExit(pos))

	// Spread back at its mean: close.
	s2 := pairSpreadForTest()
	feedSpreads(t, s2, []float64{10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 10.1, 9.9, 10.0})
	assert.True(t, s2.EvaluateExit(pos))
}

func TestPairSpreadThresholdAdaptation(t *testing.T) {
	s := pairSpreadForTest()

	base := s.entryZ
	s.OnTradeClosed(false)
	assert.InDelta(t, base*1.1, s.entryZ, 1e-9, "losses tighten the threshold")

	for i := 0; i < 10; i++ {
		s.OnTradeClosed(true)
	}
	assert.Equal(t, base, s.entryZ)
}
