package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/domain"
)

// fakeExchange records placed orders and returns scripted results.
type fakeExchange struct {
	mu      sync.Mutex
	orders  []domain.Order
	results []domain.OrderResult
	errs    []error
}

func (f *fakeExchange) Name() string                                          { return "fake" }
func (f *fakeExchange) Connect(context.Context) error                         { return nil }
func (f *fakeExchange) Disconnect(context.Context) error                      { return nil }
func (f *fakeExchange) SubscribeOrderBook(context.Context, string) error      { return nil }
func (f *fakeExchange) OnBookUpdate(domain.BookUpdateHandler)                 {}
func (f *fakeExchange) CancelOrder(context.Context, string, string) error     { return nil }
func (f *fakeExchange) GetBalance(context.Context) (float64, error)           { return 100_000, nil }
func (f *fakeExchange) GetPrice(context.Context, string) (float64, error)     { return 0, nil }
func (f *fakeExchange) GetPosition(context.Context, string) (float64, error)  { return 0, nil }

func (f *fakeExchange) PlaceOrder(_ context.Context, order domain.Order) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	i := len(f.orders) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.OrderResult{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return domain.OrderResult{
		Status:      domain.OrderStatusFilled,
		FilledSize:  order.Size,
		FilledPrice: order.Price,
	}, nil
}

func (f *fakeExchange) placed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// allowAllRisk approves everything and records closed trades.
type allowAllRisk struct {
	mu     sync.Mutex
	allow  bool
	trades []domain.TradeResult
}

func (r *allowAllRisk) CanOpenPosition(string, float64, float64) bool { return r.allow }
func (r *allowAllRisk) OnTradeClosed(trade domain.TradeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
}

func newTestManager(exch *fakeExchange, riskGate RiskGate) *Manager {
	return NewManager(
		riskGate,
		map[string]domain.Exchange{"fake": exch},
		nil, nil, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func longSignal(symbol string) domain.Signal {
	return domain.Signal{
		ID:         "sig-1",
		Symbol:     symbol,
		Side:       domain.SignalSideLong,
		EntryPrice: 50_000,
		TakeProfit: 50_500,
		StopLoss:   49_700,
		Size:       0.1,
		Strategy:   "imbalance",
	}
}

func TestOpenRegistersPositionOnFill(t *testing.T) {
	exch := &fakeExchange{}
	m := newTestManager(exch, &allowAllRisk{allow: true})

	pos, err := m.Open(context.Background(), longSignal("BTC/USDT"), "fake")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 50_000.0, pos.EntryPrice)
	assert.Equal(t, 0.1, pos.Size)
	assert.Len(t, m.OpenPositions(), 1)
}

func TestOpenDeniedByRiskPlacesNoOrder(t *testing.T) {
	exch := &fakeExchange{}
	m := newTestManager(exch, &allowAllRisk{allow: false})

	pos, err := m.Open(context.Background(), longSignal("BTC/USDT"), "fake")
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Zero(t, exch.placed())
}

func TestOpenRejectedOrderIsNoPosition(t *testing.T) {
	exch := &fakeExchange{results: []domain.OrderResult{{Status: domain.OrderStatusRejected}}}
	m := newTestManager(exch, &allowAllRisk{allow: true})

	pos, err := m.Open(context.Background(), longSignal("BTC/USDT"), "fake")
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Empty(t, m.OpenPositions())
}

func TestOpenEnforcesOnePositionPerSymbol(t *testing.T) {
	exch := &fakeExchange{}
	m := newTestManager(exch, &allowAllRisk{allow: true})

	first, err := m.Open(context.Background(), longSignal("BTC/USDT"), "fake")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := m.Open(context.Background(), longSignal("BTC/USDT"), "fake")
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, 1, exch.placed())
	assert.Len(t, m.OpenPositions(), 1)
}

func TestCloseWithoutPositionIsIdempotentNoOp(t *testing.T) {
	exch := &fakeExchange{}
	m := newTestManager(exch, &allowAllRisk{allow: true})

	trade, err := m.Close(context.Background(), "BTC/USDT", domain.CloseReasonManual)
	assert.ErrorIs(t, err, domain.ErrNoPosition)
	assert.Nil(t, trade)
	assert.Zero(t, exch.placed())
}

func TestCloseComputesPnLAndFeedsRisk(t *testing.T) {
	exch := &fakeExchange{results: []domain.OrderResult{
		{Status: domain.OrderStatusFilled, FilledSize: 0.1, FilledPrice: 50_000},
		{Status: domain.OrderStatusFilled, FilledSize: 0.1, FilledPrice: 51_000},
	}}
	riskGate := &allowAllRisk{allow: true}
	m := newTestManager(exch, riskGate)

	_, err := m.Open(context.Background(), longSignal("BTC/USDT"), "fake")
	require.NoError(t, err)

	trade, err := m.Close(context.Background(), "BTC/USDT", domain.CloseReasonTakeProfit)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.InDelta(t, 100.0, trade.PnL, 1e-9)
	assert.Equal(t, domain.CloseReasonTakeProfit, trade.Reason)
	assert.Empty(t, m.OpenPositions())

	require.Len(t, riskGate.trades, 1)
	assert.InDelta(t, 100.0, riskGate.trades[0].PnL, 1e-9)

	// A second close finds nothing and sends no duplicate order.
	_, err = m.Close(context.Background(), "BTC/USDT", domain.CloseReasonTakeProfit)
	assert.ErrorIs(t, err, domain.ErrNoPosition)
	assert.Equal(t, 2, exch.placed())
}

func TestCloseRetriesTransientErrors(t *testing.T) {
	exch := &fakeExchange{
		errs: []error{nil, errors.New("socket drop"), nil},
		results: []domain.OrderResult{
			{Status: domain.OrderStatusFilled, FilledSize: 0.1, FilledPrice: 50_000},
			{}, // consumed by the failed attempt
			{Status: domain.OrderStatusFilled, FilledSize: 0.1, FilledPrice: 49_900},
		},
	}
	m := newTestManager(exch, &allowAllRisk{allow: true})

	_, err := m.Open(context.Background(), longSignal("BTC/USDT"), "fake")
	require.NoError(t, err)

	trade, err := m.Close(context.Background(), "BTC/USDT", domain.CloseReasonStopLoss)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, trade.PnL, 1e-9)
	assert.Equal(t, 3, exch.placed())
}

func TestCloseAllIsolatesFailures(t *testing.T) {
	exch := &fakeExchange{}
	m := newTestManager(exch, &allowAllRisk{allow: true})

	_, err := m.Open(context.Background(), longSignal("BTC/USDT"), "fake")
	require.NoError(t, err)
	ethSig := longSignal("ETH/USDT")
	ethSig.EntryPrice = 3000
	_, err = m.Open(context.Background(), ethSig, "fake")
	require.NoError(t, err)

	closed := m.CloseAll(context.Background(), domain.CloseReasonShutdown)
	assert.Len(t, closed, 2)
	assert.Empty(t, m.OpenPositions())
}

func TestUpdatePriceTracksPnLAndExtremes(t *testing.T) {
	exch := &fakeExchange{}
	m := newTestManager(exch, &allowAllRisk{allow: true})

	_, err := m.Open(context.Background(), longSignal("BTC/USDT"), "fake")
	require.NoError(t, err)

	m.UpdatePrice(context.Background(), "BTC/USDT", 51_000)
	pos, ok := m.Get("BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, 100.0, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 100.0, pos.MaxFavorablePnL, 1e-9)

	m.UpdatePrice(context.Background(), "BTC/USDT", 49_000)
	pos, _ = m.Get("BTC/USDT")
	assert.InDelta(t, -100.0, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, -100.0, pos.MaxAdversePnL, 1e-9)
	assert.InDelta(t, 100.0, pos.MaxFavorablePnL, 1e-9)
	assert.Len(t, pos.PriceHistory, 3)

	// A zero price is "no quote", never applied.
	m.UpdatePrice(context.Background(), "BTC/USDT", 0)
	pos, _ = m.Get("BTC/USDT")
	assert.Equal(t, 49_000.0, pos.CurrentPrice)
}
