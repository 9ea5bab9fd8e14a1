// Package exchange provides trading venue implementations behind the
// domain.Exchange interface: a simulated paper venue and a generic
// websocket/REST venue client.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdimir/signalbot/internal/domain"
)

// Paper is an in-memory simulated venue used by dry-run mode and tests.
// Book updates pushed via PushBook are delivered to the registered handler;
// orders fill against the latest pushed ladder with walk-the-book slippage
// for market orders.
type Paper struct {
	name    string
	balance float64
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
	handler   domain.BookUpdateHandler
	books     map[string]*domain.OrderBook
	subs      map[string]struct{}
	positions map[string]float64 // net size per symbol, signed
}

// NewPaper creates a paper venue with the given starting balance.
func NewPaper(name string, balance float64, logger *slog.Logger) *Paper {
	if name == "" {
		name = "paper"
	}
	return &Paper{
		name:    name,
		balance: balance,
		logger:  logger.With(slog.String("component", "paper_exchange")),
		books:     make(map[string]*domain.OrderBook),
		subs:      make(map[string]struct{}),
		positions: make(map[string]float64),
	}
}

// Name implements domain.Exchange.
func (p *Paper) Name() string { return p.name }

// Connect implements domain.Exchange. Idempotent.
func (p *Paper) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// Disconnect implements domain.Exchange. Idempotent.
func (p *Paper) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// SubscribeOrderBook implements domain.Exchange.
func (p *Paper) SubscribeOrderBook(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return fmt.Errorf("paper: subscribe %s: %w", symbol, domain.ErrNotConnected)
	}
	p.subs[symbol] = struct{}{}
	return nil
}

// OnBookUpdate implements domain.Exchange.
func (p *Paper) OnBookUpdate(h domain.BookUpdateHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// PushBook applies a simulated ladder and delivers it to the handler when
// the symbol is subscribed.
func (p *Paper) PushBook(update domain.BookUpdate) {
	p.mu.Lock()
	book, ok := p.books[update.Symbol]
	if !ok {
		book = domain.NewOrderBook(update.Symbol, p.name, 20)
		p.books[update.Symbol] = book
	}
	book.Replace(update.Bids, update.Asks, time.Now().UTC())
	_, subscribed := p.subs[update.Symbol]
	h := p.handler
	p.mu.Unlock()

	update.Exchange = p.name
	if subscribed && h != nil {
		h(update)
	}
}

// PlaceOrder implements domain.Exchange. Limit orders fill at their limit
// price when the book crosses it (or when no book exists yet); market
// orders fill at the walk-the-book execution price. Orders the book cannot
// absorb are rejected.
func (p *Paper) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return domain.OrderResult{}, fmt.Errorf("paper: place order: %w", domain.ErrNotConnected)
	}
	if order.Size <= 0 {
		return domain.OrderResult{
			Status:  domain.OrderStatusRejected,
			Message: "non-positive size",
		}, nil
	}

	book := p.books[order.Symbol]
	fillPrice := order.Price

	if order.Type == domain.OrderTypeMarket {
		if book == nil {
			return domain.OrderResult{
				Status:  domain.OrderStatusRejected,
				Message: "no market data",
			}, nil
		}
		fillPrice = book.EstimateExecutionPrice(order.Size, order.Side)
		if fillPrice == 0 || math.IsInf(fillPrice, 1) {
			return domain.OrderResult{
				Status:  domain.OrderStatusRejected,
				Message: "insufficient depth",
			}, nil
		}
	} else if book != nil {
		// A limit buy above the best ask (or sell below the best bid)
		// fills immediately at the limit; anything else would rest, which
		// the simulation reports as a rejection rather than tracking open
		// orders.
		if order.Side == domain.OrderSideBuy {
			if ask := book.BestAsk(); ask > 0 && order.Price < ask {
				return domain.OrderResult{
					Status:  domain.OrderStatusRejected,
					Message: "limit below market",
				}, nil
			}
		} else {
			if bid := book.BestBid(); bid > 0 && order.Price > bid {
				return domain.OrderResult{
					Status:  domain.OrderStatusRejected,
					Message: "limit above market",
				}, nil
			}
		}
	}

	delta := order.Size
	if order.Side == domain.OrderSideSell {
		delta = -order.Size
	}
	p.positions[order.Symbol] += delta

	return domain.OrderResult{
		Status:          domain.OrderStatusFilled,
		FilledSize:      order.Size,
		FilledPrice:     fillPrice,
		ExchangeOrderID: uuid.NewString(),
	}, nil
}

// CancelOrder implements domain.Exchange. The simulation has no resting
// orders, so cancels always succeed.
func (p *Paper) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	return nil
}

// GetBalance implements domain.Exchange.
func (p *Paper) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// GetPrice implements domain.Exchange. Returns the mid of the latest
// pushed ladder, or 0 when no quote exists.
func (p *Paper) GetPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	book := p.books[symbol]
	p.mu.Unlock()
	if book == nil {
		return 0, nil
	}
	return book.MidPrice(), nil
}

// GetPosition implements domain.Exchange. Fills accumulate into a signed
// net size per symbol: buys add, sells subtract.
func (p *Paper) GetPosition(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[symbol], nil
}

var _ domain.Exchange = (*Paper)(nil)
