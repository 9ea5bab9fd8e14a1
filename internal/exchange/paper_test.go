package exchange

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLadder() domain.BookUpdate {
	return domain.BookUpdate{
		Symbol: "BTC/USDT",
		Bids: []domain.Level{
			{Price: 50_000, Size: 1},
			{Price: 49_990, Size: 2},
		},
		Asks: []domain.Level{
			{Price: 50_010, Size: 1},
			{Price: 50_020, Size: 2},
		},
	}
}

func TestPaperDeliversSubscribedBooks(t *testing.T) {
	p := NewPaper("paper", 10_000, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))

	var got []domain.BookUpdate
	p.OnBookUpdate(func(u domain.BookUpdate) { got = append(got, u) })

	// Not subscribed yet: the ladder is stored but not delivered.
	p.PushBook(testLadder())
	assert.Empty(t, got)

	require.NoError(t, p.SubscribeOrderBook(ctx, "BTC/USDT"))
	p.PushBook(testLadder())
	require.Len(t, got, 1)
	assert.Equal(t, "paper", got[0].Exchange)
	assert.Equal(t, "BTC/USDT", got[0].Symbol)
}

func TestPaperSubscribeRequiresConnection(t *testing.T) {
	p := NewPaper("paper", 10_000, testLogger())
	err := p.SubscribeOrderBook(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestPaperMarketOrderWalksTheBook(t *testing.T) {
	p := NewPaper("paper", 10_000, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	p.PushBook(testLadder())

	// 2 units: 1 @ 50010 + 1 @ 50020 = avg 50015.
	res, err := p.PlaceOrder(ctx, domain.Order{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Size:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.InDelta(t, 50_015, res.FilledPrice, 1e-9)
	assert.NotEmpty(t, res.ExchangeOrderID)
}

func TestPaperMarketOrderRejectedOnThinBook(t *testing.T) {
	p := NewPaper("paper", 10_000, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	p.PushBook(testLadder())

	res, err := p.PlaceOrder(ctx, domain.Order{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Size:   100, // far beyond the 3 units of ask depth
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Equal(t, "insufficient depth", res.Message)
}

func TestPaperLimitOrderCrossingFills(t *testing.T) {
	p := NewPaper("paper", 10_000, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	p.PushBook(testLadder())

	res, err := p.PlaceOrder(ctx, domain.Order{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeLimit,
		Size:   0.5,
		Price:  50_010, // at the best ask
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, 50_010.0, res.FilledPrice)
}

func TestPaperLimitOrderBelowMarketRejected(t *testing.T) {
	p := NewPaper("paper", 10_000, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	p.PushBook(testLadder())

	res, err := p.PlaceOrder(ctx, domain.Order{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeLimit,
		Size:   0.5,
		Price:  49_000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Equal(t, "limit below market", res.Message)
}

func TestPaperTracksNetPosition(t *testing.T) {
	p := NewPaper("paper", 10_000, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	p.PushBook(testLadder())

	pos, err := p.GetPosition(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Zero(t, pos)

	_, err = p.PlaceOrder(ctx, domain.Order{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Size:   2,
	})
	require.NoError(t, err)

	_, err = p.PlaceOrder(ctx, domain.Order{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideSell,
		Type:   domain.OrderTypeMarket,
		Size:   0.5,
	})
	require.NoError(t, err)

	pos, err = p.GetPosition(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, pos, 1e-9)

	// Rejected orders leave the position untouched.
	res, err := p.PlaceOrder(ctx, domain.Order{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Size:   100,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusRejected, res.Status)

	pos, err = p.GetPosition(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, pos, 1e-9)
}

func TestPaperGetPrice(t *testing.T) {
	p := NewPaper("paper", 10_000, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))

	price, err := p.GetPrice(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Zero(t, price)

	p.PushBook(testLadder())
	price, err = p.GetPrice(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 50_005, price, 1e-9)

	balance, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10_000.0, balance)
}
