// Package position owns the authoritative set of open positions and the
// open/close lifecycle against trading venues. At most one open position per
// symbol is enforced here, behind a per-symbol slot lock.
package position

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avdimir/signalbot/internal/domain"
)

const (
	// priceHistoryLimit bounds the per-position price history used for
	// correlation and MAE/MFE tracking.
	priceHistoryLimit = 256

	// closeAttempts and closeBackoff bound the retry loop around
	// transient venue errors during a close.
	closeAttempts = 3
	closeBackoff  = 500 * time.Millisecond
)

// RiskGate is the slice of the risk manager the position manager needs as
// its last admission check before talking to a venue.
type RiskGate interface {
	CanOpenPosition(symbol string, size, price float64) bool
	OnTradeClosed(trade domain.TradeResult)
}

// Alerter delivers human-readable trade notifications, fire-and-forget.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Manager executes opens and closes against exchanges and keeps per-position
// PnL current. Persistence, event-bus, and notification side effects are
// logged on failure but never block the pipeline.
type Manager struct {
	risk      RiskGate
	exchanges map[string]domain.Exchange
	store     domain.PositionStore
	trades    domain.TradeStore
	orders    domain.OrderStore
	bus       domain.EventBus
	alerter   Alerter
	logger    *slog.Logger

	mu        sync.Mutex
	slots     map[string]*sync.Mutex
	positions map[string]*domain.Position
}

// NewManager creates a position manager. Store, bus, and alerter may be nil
// when the corresponding collaborator is not configured.
func NewManager(
	riskGate RiskGate,
	exchanges map[string]domain.Exchange,
	store domain.PositionStore,
	trades domain.TradeStore,
	bus domain.EventBus,
	alerter Alerter,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		risk:      riskGate,
		exchanges: exchanges,
		store:     store,
		trades:    trades,
		bus:       bus,
		alerter:   alerter,
		logger:    logger.With(slog.String("component", "position_manager")),
	}
}

// WithOrderStore attaches an order journal. Every submitted order is
// recorded with the status the venue reported.
func (m *Manager) WithOrderStore(orders domain.OrderStore) *Manager {
	m.orders = orders
	return m
}

// slot returns the lock guarding the symbol's position entry.
func (m *Manager) slot(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slots == nil {
		m.slots = make(map[string]*sync.Mutex)
		m.positions = make(map[string]*domain.Position)
	}
	l, ok := m.slots[symbol]
	if !ok {
		l = &sync.Mutex{}
		m.slots[symbol] = l
	}
	return l
}

// OpenPositions returns a copy of every open position. It is the shared
// view the risk manager reads.
func (m *Manager) OpenPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// Get returns a copy of the open position for symbol.
func (m *Manager) Get(symbol string) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Open turns an approved signal into a position. It re-validates the risk
// gate under the symbol's slot lock (the engine already checked, but this is
// the last gate before venue I/O), submits a limit order, and registers a
// position only when the venue reports a fill. A risk denial or a non-fill
// returns (nil, nil); errors mean the request itself failed.
func (m *Manager) Open(ctx context.Context, sig domain.Signal, exchangeName string) (*domain.Position, error) {
	lock := m.slot(sig.Symbol)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	_, exists := m.positions[sig.Symbol]
	m.mu.Unlock()
	if exists {
		m.logger.WarnContext(ctx, "open skipped, position already exists",
			slog.String("symbol", sig.Symbol),
		)
		return nil, nil
	}

	if !m.risk.CanOpenPosition(sig.Symbol, sig.Size, sig.EntryPrice) {
		return nil, nil
	}

	exch, ok := m.exchanges[exchangeName]
	if !ok {
		return nil, fmt.Errorf("position: unknown exchange %q", exchangeName)
	}

	order := domain.Order{
		ID:        uuid.NewString(),
		Symbol:    sig.Symbol,
		Exchange:  exchangeName,
		Side:      sig.OrderSideFor(),
		Type:      domain.OrderTypeLimit,
		Size:      sig.Size,
		Price:     sig.EntryPrice,
		Strategy:  sig.Strategy,
		SignalID:  sig.ID,
		Status:    domain.OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	result, err := exch.PlaceOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("position: place order %s: %w", sig.Symbol, err)
	}
	m.persistOrder(ctx, order, result.Status)
	if !result.Filled() {
		m.logger.InfoContext(ctx, "order not filled",
			slog.String("symbol", sig.Symbol),
			slog.String("status", string(result.Status)),
			slog.String("message", result.Message),
		)
		return nil, nil
	}

	now := time.Now().UTC()
	pos := &domain.Position{
		ID:              order.ID,
		Symbol:          sig.Symbol,
		Side:            sig.Side,
		EntryPrice:      result.FilledPrice,
		CurrentPrice:    result.FilledPrice,
		Size:            result.FilledSize,
		TakeProfit:      sig.TakeProfit,
		StopLoss:        sig.StopLoss,
		Strategy:        sig.Strategy,
		Exchange:        exchangeName,
		ExchangeOrderID: result.ExchangeOrderID,
		Status:          domain.PositionStatusOpen,
		OpenedAt:        now,
		PriceHistory:    []domain.PricePoint{{Time: now, Price: result.FilledPrice}},
	}
	if result.Status == domain.OrderStatusPartial {
		pos.PartialFills = 1
	}

	m.mu.Lock()
	m.positions[sig.Symbol] = pos
	m.mu.Unlock()

	m.persistOpen(ctx, *pos)
	m.publish(ctx, "position_opened", map[string]any{
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
		"strategy":    pos.Strategy,
	})
	m.alert(ctx, "position_opened", "Position opened",
		fmt.Sprintf("%s %s %.6f @ %.4f (%s)", pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.Strategy))

	m.logger.InfoContext(ctx, "position opened",
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("size", pos.Size),
	)
	return pos, nil
}

// Close exits the open position for symbol with an opposing market order.
// Closing a symbol with no open position returns domain.ErrNoPosition and
// performs no venue call; closing is otherwise idempotent. Transient venue
// errors are retried with exponential backoff before giving up.
func (m *Manager) Close(ctx context.Context, symbol string, reason domain.CloseReason) (*domain.TradeResult, error) {
	lock := m.slot(symbol)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	pos, ok := m.positions[symbol]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrNoPosition
	}

	exch, ok := m.exchanges[pos.Exchange]
	if !ok {
		return nil, fmt.Errorf("position: unknown exchange %q", pos.Exchange)
	}

	side := domain.OrderSideSell
	if pos.Side == domain.SignalSideShort {
		side = domain.OrderSideBuy
	}
	order := domain.Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Exchange:  pos.Exchange,
		Side:      side,
		Type:      domain.OrderTypeMarket,
		Size:      pos.Size,
		Strategy:  pos.Strategy,
		Status:    domain.OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	result, err := m.placeWithRetry(ctx, exch, order)
	if err != nil {
		return nil, fmt.Errorf("position: close %s: %w", symbol, err)
	}
	m.persistOrder(ctx, order, result.Status)
	if !result.Filled() {
		return nil, fmt.Errorf("position: close %s: venue returned %s: %w",
			symbol, result.Status, domain.ErrUnavailable)
	}

	now := time.Now().UTC()
	exitPrice := result.FilledPrice
	pnl := pos.PnLAt(exitPrice)

	trade := domain.TradeResult{
		ID:         pos.ID,
		Symbol:     symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       pos.Size,
		PnL:        pnl,
		Reason:     reason,
		Strategy:   pos.Strategy,
		Exchange:   pos.Exchange,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
	}

	m.mu.Lock()
	delete(m.positions, symbol)
	m.mu.Unlock()

	m.risk.OnTradeClosed(trade)

	m.persistClose(ctx, pos.ID, exitPrice, pnl, now, trade)
	m.publish(ctx, "position_closed", map[string]any{
		"symbol":     symbol,
		"exit_price": exitPrice,
		"pnl":        pnl,
		"reason":     string(reason),
	})
	m.alert(ctx, "position_closed", "Position closed",
		fmt.Sprintf("%s @ %.4f pnl %.2f (%s)", symbol, exitPrice, pnl, reason))

	m.logger.InfoContext(ctx, "position closed",
		slog.String("symbol", symbol),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", pnl),
		slog.String("reason", string(reason)),
	)
	return &trade, nil
}

// CloseAll concurrently closes every open position. Failures on individual
// symbols are isolated and logged; they never abort the other closes. It
// returns the trades that did close.
func (m *Manager) CloseAll(ctx context.Context, reason domain.CloseReason) []domain.TradeResult {
	open := m.OpenPositions()
	if len(open) == 0 {
		return nil
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		closed []domain.TradeResult
	)
	for _, pos := range open {
		symbol := pos.Symbol
		g.Go(func() error {
			trade, err := m.Close(ctx, symbol, reason)
			if err != nil {
				m.logger.ErrorContext(ctx, "close failed during close-all",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				return nil // isolated, never aborts siblings
			}
			if trade != nil {
				mu.Lock()
				closed = append(closed, *trade)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return closed
}

// UpdatePrice refreshes the position's mark price, unrealized PnL, price
// history, and PnL extremes. Unknown symbols and non-positive prices are
// ignored.
func (m *Manager) UpdatePrice(ctx context.Context, symbol string, price float64) {
	if price <= 0 {
		return
	}

	lock := m.slot(symbol)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	pos, ok := m.positions[symbol]
	if !ok {
		m.mu.Unlock()
		return
	}
	pos.CurrentPrice = price
	pos.UnrealizedPnL = pos.PnLAt(price)
	if pos.UnrealizedPnL < pos.MaxAdversePnL {
		pos.MaxAdversePnL = pos.UnrealizedPnL
	}
	if pos.UnrealizedPnL > pos.MaxFavorablePnL {
		pos.MaxFavorablePnL = pos.UnrealizedPnL
	}
	pos.PriceHistory = append(pos.PriceHistory, domain.PricePoint{
		Time:  time.Now().UTC(),
		Price: price,
	})
	if len(pos.PriceHistory) > priceHistoryLimit {
		pos.PriceHistory = pos.PriceHistory[len(pos.PriceHistory)-priceHistoryLimit:]
	}
	snapshot := *pos
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Update(ctx, snapshot); err != nil {
			m.logger.DebugContext(ctx, "position update persist failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// placeWithRetry retries transient venue errors with exponential backoff.
// Rejections are results, not errors, so they return immediately.
func (m *Manager) placeWithRetry(ctx context.Context, exch domain.Exchange, order domain.Order) (domain.OrderResult, error) {
	backoff := closeBackoff
	var lastErr error
	for attempt := 1; attempt <= closeAttempts; attempt++ {
		result, err := exch.PlaceOrder(ctx, order)
		if err == nil {
			return result, nil
		}
		lastErr = err
		m.logger.WarnContext(ctx, "order attempt failed",
			slog.String("symbol", order.Symbol),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == closeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return domain.OrderResult{}, lastErr
}

func (m *Manager) persistOrder(ctx context.Context, order domain.Order, status domain.OrderStatus) {
	if m.orders == nil {
		return
	}
	order.Status = status
	if err := m.orders.Save(ctx, order); err != nil {
		m.logger.DebugContext(ctx, "order persist failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) persistOpen(ctx context.Context, pos domain.Position) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, pos); err != nil {
		m.logger.ErrorContext(ctx, "position persist failed",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) persistClose(ctx context.Context, id string, exitPrice, pnl float64, closedAt time.Time, trade domain.TradeResult) {
	if m.store != nil {
		if err := m.store.Close(ctx, id, exitPrice, pnl, closedAt); err != nil {
			m.logger.ErrorContext(ctx, "position close persist failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.trades != nil {
		if err := m.trades.Save(ctx, trade); err != nil {
			m.logger.ErrorContext(ctx, "trade persist failed",
				slog.String("symbol", trade.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Manager) publish(ctx context.Context, event string, detail map[string]any) {
	if m.bus == nil {
		return
	}
	detail["event"] = event
	payload, _ := json.Marshal(detail)
	if err := m.bus.Publish(ctx, "positions", payload); err != nil {
		m.logger.DebugContext(ctx, "event publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) alert(ctx context.Context, event, title, message string) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Notify(ctx, event, title, message); err != nil {
		m.logger.DebugContext(ctx, "alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
