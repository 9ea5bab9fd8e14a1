// Package engine orchestrates the trading pipeline: four concurrent loops
// (market data, signal processing, order processing, position monitoring)
// connected by three queues, plus engine-level lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avdimir/signalbot/internal/domain"
	"github.com/avdimir/signalbot/internal/risk"
	"github.com/avdimir/signalbot/internal/strategy"
)

// State is the engine lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Subscription routes one symbol to the venue whose book feeds it.
type Subscription struct {
	Symbol   string
	Exchange string
}

// Config tunes the engine loops and queues.
type Config struct {
	Subscriptions   []Subscription
	BookDepth       int
	QueueSize       int
	MonitorInterval time.Duration
	MetricsInterval time.Duration
	DrainTimeout    time.Duration
}

// Defaults returns the standard engine tuning.
func Defaults() Config {
	return Config{
		BookDepth:       20,
		QueueSize:       256,
		MonitorInterval: 100 * time.Millisecond,
		MetricsInterval: 10 * time.Second,
		DrainTimeout:    5 * time.Second,
	}
}

// PositionManager is the slice of the position lifecycle the engine drives.
type PositionManager interface {
	Open(ctx context.Context, sig domain.Signal, exchange string) (*domain.Position, error)
	Close(ctx context.Context, symbol string, reason domain.CloseReason) (*domain.TradeResult, error)
	CloseAll(ctx context.Context, reason domain.CloseReason) []domain.TradeResult
	UpdatePrice(ctx context.Context, symbol string, price float64)
	OpenPositions() []domain.Position
}

// orderRequest is one risk-approved signal on its way to a venue.
type orderRequest struct {
	signal   domain.Signal
	exchange string
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	State            State
	StartedAt        time.Time
	BooksApplied     uint64
	BooksRejected    uint64
	SignalsGenerated uint64
	SignalsApproved  uint64
	SignalsRejected  uint64
	OrdersPlaced     uint64
	PositionsOpened  uint64
	PositionsClosed  uint64
}

// Engine wires order books, strategies, the risk manager, and the position
// manager together and owns start/stop.
type Engine struct {
	cfg       Config
	registry  *strategy.Registry
	riskMgr   *risk.Manager
	positions PositionManager
	exchanges map[string]domain.Exchange
	prices    domain.PriceCache
	books     domain.BookCache
	metrics   domain.MetricStore
	logger    *slog.Logger

	marketDataCh chan domain.BookUpdate
	signalCh     chan domain.Signal
	orderCh      chan orderRequest

	mu          sync.Mutex
	state       State
	startedAt   time.Time
	bookState   map[string]*domain.OrderBook // keyed by symbol
	symbolVenue map[string]string
	stats       Stats
	cancel      context.CancelFunc
	group       *errgroup.Group
}

// New creates a stopped engine. Price cache, book cache, and metric store
// may be nil when those collaborators are not configured.
func New(
	cfg Config,
	registry *strategy.Registry,
	riskMgr *risk.Manager,
	positions PositionManager,
	exchanges map[string]domain.Exchange,
	prices domain.PriceCache,
	books domain.BookCache,
	metrics domain.MetricStore,
	logger *slog.Logger,
) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 100 * time.Millisecond
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}

	venues := make(map[string]string, len(cfg.Subscriptions))
	for _, sub := range cfg.Subscriptions {
		venues[sub.Symbol] = sub.Exchange
	}

	return &Engine{
		cfg:          cfg,
		registry:     registry,
		riskMgr:      riskMgr,
		positions:    positions,
		exchanges:    exchanges,
		prices:       prices,
		books:        books,
		metrics:      metrics,
		logger:       logger.With(slog.String("component", "engine")),
		marketDataCh: make(chan domain.BookUpdate, cfg.QueueSize),
		signalCh:     make(chan domain.Signal, cfg.QueueSize),
		orderCh:      make(chan orderRequest, cfg.QueueSize),
		state:        StateStopped,
		bookState:    make(map[string]*domain.OrderBook),
		symbolVenue:  venues,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.State = e.state
	s.StartedAt = e.startedAt
	return s
}

// Start connects every configured exchange (a connection failure aborts
// startup), subscribes the configured symbols, and launches the four loops.
// It returns once the pipeline is running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine: start in state %s", e.state)
	}
	e.state = StateRunning
	e.startedAt = time.Now().UTC()
	e.mu.Unlock()

	// Fail fast at the boundary: every venue must connect before any loop
	// starts.
	for name, exch := range e.exchanges {
		if err := exch.Connect(ctx); err != nil {
			e.setState(StateStopped)
			return fmt.Errorf("engine: connect %s: %w", name, err)
		}
		exch.OnBookUpdate(e.enqueueBookUpdate)
	}

	for _, sub := range e.cfg.Subscriptions {
		exch, ok := e.exchanges[sub.Exchange]
		if !ok {
			e.setState(StateStopped)
			return fmt.Errorf("engine: subscription %s: unknown exchange %q", sub.Symbol, sub.Exchange)
		}
		if err := exch.SubscribeOrderBook(ctx, sub.Symbol); err != nil {
			e.setState(StateStopped)
			return fmt.Errorf("engine: subscribe %s on %s: %w", sub.Symbol, sub.Exchange, err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g, loopCtx := errgroup.WithContext(loopCtx)
	e.mu.Lock()
	e.cancel = cancel
	e.group = g
	e.mu.Unlock()

	g.Go(func() error { return e.marketDataLoop(loopCtx) })
	g.Go(func() error { return e.signalLoop(loopCtx) })
	g.Go(func() error { return e.orderLoop(loopCtx) })
	g.Go(func() error { return e.monitorLoop(loopCtx) })

	e.logger.Info("engine started",
		slog.Int("subscriptions", len(e.cfg.Subscriptions)),
		slog.Int("exchanges", len(e.exchanges)),
	)
	return nil
}

// Stop flips the engine to stopping, closes all open positions, disconnects
// every exchange, waits for in-flight loop work to drain, and returns. It is
// idempotent and safe to call from a signal handler.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	cancel := e.cancel
	group := e.group
	e.mu.Unlock()

	e.logger.Info("engine stopping")

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}

	// Shutdown work runs on its own timeout so a hung venue cannot stall
	// process exit.
	ctx, cancelDrain := context.WithTimeout(context.Background(), e.cfg.DrainTimeout)
	defer cancelDrain()

	closed := e.positions.CloseAll(ctx, domain.CloseReasonShutdown)
	for _, trade := range closed {
		e.notifyStrategy(trade)
		e.countClosed()
	}

	for name, exch := range e.exchanges {
		if err := exch.Disconnect(ctx); err != nil {
			e.logger.Warn("disconnect failed",
				slog.String("exchange", name),
				slog.String("error", err.Error()),
			)
		}
	}

	e.setState(StateStopped)
	e.logger.Info("engine stopped", slog.Int("positions_closed", len(closed)))
}

// enqueueBookUpdate is the exchange callback. It never blocks: when the
// market-data queue is full the update is dropped and the next snapshot
// supersedes it.
func (e *Engine) enqueueBookUpdate(update domain.BookUpdate) {
	select {
	case e.marketDataCh <- update:
	default:
		e.logger.Warn("market-data queue full, dropping update",
			slog.String("symbol", update.Symbol),
		)
	}
}

// marketDataLoop drains the market-data queue, applies valid book
// replacements, and runs every subscribed strategy's entry evaluation.
func (e *Engine) marketDataLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-e.marketDataCh:
			e.handleBookUpdate(ctx, update)
		}
	}
}

// handleBookUpdate validates an inbound ladder, swaps it into the live book
// state, and fans it out to strategies. Invalid updates are dropped and
// logged; they never mutate the live book.
func (e *Engine) handleBookUpdate(ctx context.Context, update domain.BookUpdate) {
	defer e.recoverIteration("market_data")

	candidate := domain.NewOrderBook(update.Symbol, update.Exchange, e.cfg.BookDepth)
	candidate.Replace(update.Bids, update.Asks, time.Now().UTC())
	if !candidate.IsValid() {
		e.mu.Lock()
		e.stats.BooksRejected++
		e.mu.Unlock()
		e.logger.Warn("invalid book update dropped",
			slog.String("symbol", update.Symbol),
			slog.String("exchange", update.Exchange),
		)
		return
	}

	e.mu.Lock()
	e.bookState[update.Symbol] = candidate
	e.stats.BooksApplied++
	e.mu.Unlock()

	e.cacheBook(ctx, candidate)

	for _, strat := range e.registry.ForSymbol(update.Symbol) {
		strat.OnOrderBookUpdate(update.Symbol, candidate)
		sig := strat.EvaluateEntry(update.Symbol)
		if sig == nil {
			continue
		}
		e.mu.Lock()
		e.stats.SignalsGenerated++
		e.mu.Unlock()
		select {
		case e.signalCh <- *sig:
		case <-ctx.Done():
			return
		default:
			e.logger.Warn("signal queue full, dropping signal",
				slog.String("symbol", sig.Symbol),
				slog.String("strategy", sig.Strategy),
			)
		}
	}
}

// signalLoop drains the signal queue, sizes each signal through the risk
// manager, and forwards approved signals as order requests.
func (e *Engine) signalLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-e.signalCh:
			e.handleSignal(ctx, sig)
		}
	}
}

func (e *Engine) handleSignal(ctx context.Context, sig domain.Signal) {
	defer e.recoverIteration("signal")

	venue, ok := e.symbolVenue[sig.Symbol]
	if !ok {
		e.logger.Warn("signal for unrouted symbol dropped",
			slog.String("symbol", sig.Symbol),
		)
		return
	}

	// Size first, then gate: the adjusted size is what the risk checks
	// must approve.
	sig.Size = e.riskMgr.AdjustPositionSize(sig.Size, sig.Symbol)
	if !e.riskMgr.CanOpenPosition(sig.Symbol, sig.Size, sig.EntryPrice) {
		e.mu.Lock()
		e.stats.SignalsRejected++
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.stats.SignalsApproved++
	e.mu.Unlock()

	select {
	case e.orderCh <- orderRequest{signal: sig, exchange: venue}:
	case <-ctx.Done():
	default:
		e.logger.Warn("order queue full, dropping approved signal",
			slog.String("symbol", sig.Symbol),
		)
	}
}

// orderLoop drains the order queue and drives the position manager.
func (e *Engine) orderLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-e.orderCh:
			e.handleOrder(ctx, req)
		}
	}
}

func (e *Engine) handleOrder(ctx context.Context, req orderRequest) {
	defer e.recoverIteration("order")

	e.mu.Lock()
	e.stats.OrdersPlaced++
	e.mu.Unlock()

	pos, err := e.positions.Open(ctx, req.signal, req.exchange)
	if err != nil {
		e.logger.Error("order execution failed",
			slog.String("symbol", req.signal.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if pos != nil {
		e.mu.Lock()
		e.stats.PositionsOpened++
		e.mu.Unlock()
	}
}

// monitorLoop polls open positions on a fixed interval: refresh the mark
// price, consult the owning strategy's exit logic and the position's own
// TP/SL levels, and independently check the risk manager's emergency
// override.
func (e *Engine) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	var lastMetrics time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.monitorTick(ctx)
			if e.cfg.MetricsInterval > 0 && time.Since(lastMetrics) >= e.cfg.MetricsInterval {
				e.recordMetrics(ctx)
				lastMetrics = time.Now()
			}
		}
	}
}

func (e *Engine) monitorTick(ctx context.Context) {
	defer e.recoverIteration("monitor")

	open := e.positions.OpenPositions()
	if len(open) == 0 {
		return
	}

	if e.riskMgr.ShouldEmergencyClose() {
		e.logger.Error("emergency close triggered")
		closed := e.positions.CloseAll(ctx, domain.CloseReasonEmergency)
		for _, trade := range closed {
			e.notifyStrategy(trade)
			e.countClosed()
		}
		return
	}

	for _, pos := range open {
		price := e.markPrice(ctx, pos)
		if price <= 0 {
			continue
		}
		e.positions.UpdatePrice(ctx, pos.Symbol, price)
		e.cachePrice(ctx, pos.Symbol, price)

		reason, shouldClose := e.exitReason(pos, price)
		if !shouldClose {
			continue
		}
		trade, err := e.positions.Close(ctx, pos.Symbol, reason)
		if err != nil {
			e.logger.Error("close failed",
				slog.String("symbol", pos.Symbol),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if trade != nil {
			e.notifyStrategy(*trade)
			e.countClosed()
		}
	}
}

// markPrice refreshes the position's mark from its venue, falling back to
// the live book mid when the venue has no quote.
func (e *Engine) markPrice(ctx context.Context, pos domain.Position) float64 {
	if exch, ok := e.exchanges[pos.Exchange]; ok {
		price, err := exch.GetPrice(ctx, pos.Symbol)
		if err != nil {
			e.logger.Debug("price fetch failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
		} else if price > 0 {
			return price
		}
	}

	e.mu.Lock()
	book := e.bookState[pos.Symbol]
	e.mu.Unlock()
	if book == nil {
		return 0
	}
	return book.MidPrice()
}

// exitReason decides whether the position should close now: the position's
// own TP/SL levels first, then the owning strategy's exit logic.
func (e *Engine) exitReason(pos domain.Position, price float64) (domain.CloseReason, bool) {
	switch {
	case pos.HitTakeProfit(price):
		return domain.CloseReasonTakeProfit, true
	case pos.HitStopLoss(price):
		return domain.CloseReasonStopLoss, true
	}
	if strat, ok := e.registry.Get(pos.Strategy); ok && strat.EvaluateExit(&pos) {
		return domain.CloseReasonStrategy, true
	}
	return "", false
}

// notifyStrategy feeds a terminal trade back to the strategy that opened it
// so it can adapt its thresholds.
func (e *Engine) notifyStrategy(trade domain.TradeResult) {
	if strat, ok := e.registry.Get(trade.Strategy); ok {
		strat.OnTradeClosed(trade.Profitable())
	}
}

func (e *Engine) countClosed() {
	e.mu.Lock()
	e.stats.PositionsClosed++
	e.mu.Unlock()
}

// cacheBook publishes the applied snapshot to the book cache and the mid
// price to the price cache, fire-and-forget.
func (e *Engine) cacheBook(ctx context.Context, book *domain.OrderBook) {
	if mid := book.MidPrice(); mid > 0 {
		e.cachePrice(ctx, book.Symbol, mid)
	}
	if e.books == nil {
		return
	}
	bids, asks := book.Levels()
	if err := e.books.SetSnapshot(ctx, domain.BookSnapshot{
		Symbol:    book.Symbol,
		Exchange:  book.Exchange,
		Bids:      bids,
		Asks:      asks,
		Timestamp: book.Timestamp(),
	}); err != nil {
		e.logger.Debug("book cache write failed",
			slog.String("symbol", book.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) cachePrice(ctx context.Context, symbol string, price float64) {
	if e.prices == nil {
		return
	}
	if err := e.prices.SetPrice(ctx, symbol, price, time.Now().UTC()); err != nil {
		e.logger.Debug("price cache write failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// recordMetrics writes portfolio gauges to the metric store.
func (e *Engine) recordMetrics(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	now := time.Now().UTC()
	rm := e.riskMgr.Metrics()
	gauges := map[string]float64{
		"total_exposure": rm.TotalExposure,
		"drawdown_pct":   rm.CurrentDrawdown,
		"daily_pnl":      rm.DailyPnL,
		"open_positions": float64(rm.OpenPositions),
		"balance":        e.riskMgr.CurrentBalance(),
	}
	for name, value := range gauges {
		if err := e.metrics.Save(ctx, name, value, nil, now); err != nil {
			e.logger.Debug("metric write failed",
				slog.String("metric", name),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// recoverIteration turns a panic in one loop iteration into a logged error
// so a single bad message cannot halt the pipeline.
func (e *Engine) recoverIteration(loop string) {
	if r := recover(); r != nil {
		e.logger.Error("loop iteration panicked",
			slog.String("loop", loop),
			slog.Any("panic", r),
		)
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}
