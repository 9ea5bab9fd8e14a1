package domain

import "context"

// BookUpdate is one raw ladder delivered by a venue. The core treats every
// inbound update as untrusted and validates it before applying.
type BookUpdate struct {
	Symbol   string
	Exchange string
	Bids     []Level
	Asks     []Level
}

// BookUpdateHandler receives asynchronous order-book updates from a venue.
type BookUpdateHandler func(update BookUpdate)

// Exchange is a single trading venue. Implementations own their transport:
// streaming with polling fallback, reconnect policy, and authentication are
// invisible to the core beyond message staleness.
type Exchange interface {
	// Name identifies the venue in logs and position records.
	Name() string

	// Connect establishes the venue session. Idempotent; a failure at
	// startup is fatal to the engine.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Idempotent; failures are logged
	// only.
	Disconnect(ctx context.Context) error

	// SubscribeOrderBook starts best-effort delivery of book updates for
	// the symbol to the handler registered via OnBookUpdate.
	SubscribeOrderBook(ctx context.Context, symbol string) error

	// OnBookUpdate registers the callback invoked for every inbound ladder.
	OnBookUpdate(h BookUpdateHandler)

	// PlaceOrder submits an order and reports the fill outcome. Rejections
	// are results, not errors; errors mean the request itself failed.
	PlaceOrder(ctx context.Context, order Order) (OrderResult, error)

	// CancelOrder cancels a resting order by venue order id.
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error

	// GetBalance returns the quote-currency account balance.
	GetBalance(ctx context.Context) (float64, error)

	// GetPrice returns the last price for the symbol, or 0 when no quote
	// is available. Callers must treat 0 as "no quote", never as a price.
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// GetPosition returns the venue-side net position size for the symbol:
	// positive long, negative short, 0 flat. Used to reconcile local state
	// against what the venue actually holds.
	GetPosition(ctx context.Context, symbol string) (float64, error)
}
