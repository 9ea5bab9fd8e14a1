package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/domain"
)

// stubStrategy emits a canned signal on every EvaluateEntry call.
type stubStrategy struct {
	name    string
	symbols []string
	signal  *domain.Signal
	exit    bool
	closed  []bool
}

func (s *stubStrategy) Name() string                                       { return s.name }
func (s *stubStrategy) Symbols() []string                                  { return s.symbols }
func (s *stubStrategy) OnOrderBookUpdate(string, *domain.OrderBook)        {}
func (s *stubStrategy) EvaluateExit(*domain.Position) bool                 { return s.exit }
func (s *stubStrategy) OnTradeClosed(wasProfitable bool)                   { s.closed = append(s.closed, wasProfitable) }
func (s *stubStrategy) EvaluateEntry(symbol string) *domain.Signal {
	if s.signal == nil || s.signal.Symbol != symbol {
		return nil
	}
	sig := *s.signal
	return &sig
}

func longSignal(strategy string, entry float64) *domain.Signal {
	return &domain.Signal{
		ID:         strategy + "-sig",
		Symbol:     "BTC/USDT",
		Side:       domain.SignalSideLong,
		EntryPrice: entry,
		TakeProfit: entry * 1.01,
		StopLoss:   entry * 0.99,
		Size:       0.01,
		Strategy:   strategy,
		Confidence: domain.ConfidenceMedium,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestCompositeFusesAgreementAsHighConfidence(t *testing.T) {
	a := &stubStrategy{name: "a", symbols: []string{"BTC/USDT"}, signal: longSignal("a", 50000)}
	b := &stubStrategy{name: "b", symbols: []string{"BTC/USDT"}, signal: longSignal("b", 50100)}
	c := NewComposite("fused", 2, a, b)

	sig := c.EvaluateEntry("BTC/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, domain.ConfidenceHigh, sig.Confidence)
	assert.Equal(t, domain.SignalSideLong, sig.Side)
	// Fused entry is the less favorable (higher) of the two long entries.
	assert.Equal(t, 50100.0, sig.EntryPrice)
	assert.Equal(t, "fused", sig.Strategy)
	assert.Greater(t, sig.TakeProfit, sig.EntryPrice)
	assert.Less(t, sig.StopLoss, sig.EntryPrice)
}

func TestCompositeShortFusionUsesLowerEntry(t *testing.T) {
	mk := func(name string, entry float64) *domain.Signal {
		sig := longSignal(name, entry)
		sig.Side = domain.SignalSideShort
		sig.TakeProfit = entry * 0.99
		sig.StopLoss = entry * 1.01
		return sig
	}
	a := &stubStrategy{name: "a", symbols: []string{"BTC/USDT"}, signal: mk("a", 50000)}
	b := &stubStrategy{name: "b", symbols: []string{"BTC/USDT"}, signal: mk("b", 49900)}
	c := NewComposite("fused", 2, a, b)

	sig := c.EvaluateEntry("BTC/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalSideShort, sig.Side)
	assert.Equal(t, 49900.0, sig.EntryPrice)
	assert.Less(t, sig.TakeProfit, sig.EntryPrice)
	assert.Greater(t, sig.StopLoss, sig.EntryPrice)
}

func TestCompositeHoldsLoneSignalThenPromotes(t *testing.T) {
	a := &stubStrategy{name: "a", symbols: []string{"BTC/USDT"}, signal: longSignal("a", 50000)}
	b := &stubStrategy{name: "b", symbols: []string{"BTC/USDT"}}
	c := NewComposite("fused", 2, a, b)

	// Only one sub-strategy fires: no emit, signal memoized.
	require.Nil(t, c.EvaluateEntry("BTC/USDT"))

	// The second sub-strategy agrees within the window: promoted to high.
	a.signal = nil
	b.signal = longSignal("b", 50050)
	sig := c.EvaluateEntry("BTC/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, domain.ConfidenceHigh, sig.Confidence)
	assert.Equal(t, 50050.0, sig.EntryPrice)
}

func TestCompositePendingExpires(t *testing.T) {
	a := &stubStrategy{name: "a", symbols: []string{"BTC/USDT"}, signal: longSignal("a", 50000)}
	b := &stubStrategy{name: "b", symbols: []string{"BTC/USDT"}}
	c := NewComposite("fused", 2, a, b)

	require.Nil(t, c.EvaluateEntry("BTC/USDT"))

	// Force the held signal past its confirmation window.
	c.mu.Lock()
	held := c.pending["BTC/USDT"]
	held.expiresAt = time.Now().Add(-time.Second)
	c.pending["BTC/USDT"] = held
	c.mu.Unlock()

	a.signal = nil
	b.signal = longSignal("b", 50050)
	require.Nil(t, c.EvaluateEntry("BTC/USDT"))

	c.mu.Lock()
	_, stillPending := c.pending["BTC/USDT"]
	c.mu.Unlock()
	assert.True(t, stillPending, "the fresh lone signal should be memoized")
}

func TestCompositeDisagreementDoesNotEmit(t *testing.T) {
	short := longSignal("b", 50000)
	short.Side = domain.SignalSideShort
	a := &stubStrategy{name: "a", symbols: []string{"BTC/USDT"}, signal: longSignal("a", 50000)}
	b := &stubStrategy{name: "b", symbols: []string{"BTC/USDT"}, signal: short}
	c := NewComposite("fused", 2, a, b)

	assert.Nil(t, c.EvaluateEntry("BTC/USDT"))
}

func TestCompositeForwardsTradeOutcome(t *testing.T) {
	a := &stubStrategy{name: "a"}
	b := &stubStrategy{name: "b"}
	c := NewComposite("fused", 2, a, b)

	c.OnTradeClosed(false)
	c.OnTradeClosed(true)
	assert.Equal(t, []bool{false, true}, a.closed)
	assert.Equal(t, []bool{false, true}, b.closed)
}

func TestCompositeExitIsAnySub(t *testing.T) {
	a := &stubStrategy{name: "a"}
	b := &stubStrategy{name: "b", exit: true}
	c := NewComposite("fused", 2, a, b)

	assert.True(t, c.EvaluateExit(&domain.Position{Symbol: "BTC/USDT"}))
	b.exit = false
	assert.False(t, c.EvaluateExit(&domain.Position{Symbol: "BTC/USDT"}))
}

func TestScaleTargets(t *testing.T) {
	// Long at 100, TP 110, SL 95.
	tp, sl := ScaleTargets(100, 110, 95, domain.ConfidenceHigh)
	assert.InDelta(t, 115.0, tp, 1e-9)
	assert.InDelta(t, 96.0, sl, 1e-9)

	tp, sl = ScaleTargets(100, 110, 95, domain.ConfidenceMedium)
	assert.InDelta(t, 112.5, tp, 1e-9)
	assert.InDelta(t, 95.5, sl, 1e-9)

	tp, sl = ScaleTargets(100, 110, 95, domain.ConfidenceLow)
	assert.Equal(t, 110.0, tp)
	assert.Equal(t, 95.0, sl)
}
