package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avdimir/signalbot/internal/crypto"
	"github.com/avdimir/signalbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second

	// maxReconnects bounds the reconnect attempts before the venue stops
	// delivering messages and leaves staleness detection to the core.
	maxReconnects = 10
)

// VenueConfig configures a websocket/REST venue client.
type VenueConfig struct {
	Name         string
	WSURL        string
	RESTURL      string
	Auth         *crypto.HMACAuth
	BookDepth    int
	PollInterval time.Duration // REST snapshot cadence while the stream is down

	// OrderRateLimit/OrderRateWindow throttle REST order submission when a
	// rate limiter is attached.
	OrderRateLimit  int
	OrderRateWindow time.Duration
}

// Venue is a trading venue reached over a streaming websocket with a REST
// fallback. While the stream is down it polls REST book snapshots at a
// fixed interval, so the core never needs to know which transport is live.
type Venue struct {
	cfg     VenueConfig
	limiter domain.RateLimiter
	rest    *restClient
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
	handler   domain.BookUpdateHandler
	symbols   map[string]struct{}
	cancel    context.CancelFunc
	done      chan struct{}

	// ws is the live stream connection, nil while the stream is down. The
	// write mutex serializes frames with the keep-alive pings.
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewVenue creates a venue client. The rate limiter is optional.
func NewVenue(cfg VenueConfig, limiter domain.RateLimiter, logger *slog.Logger) *Venue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 20
	}
	return &Venue{
		cfg:     cfg,
		limiter: limiter,
		rest:    newRESTClient(cfg.RESTURL, cfg.Auth),
		logger:  logger.With(slog.String("component", "venue"), slog.String("venue", cfg.Name)),
		symbols: make(map[string]struct{}),
	}
}

// Name implements domain.Exchange.
func (v *Venue) Name() string { return v.cfg.Name }

// Connect verifies REST reachability and starts the streaming supervisor.
// Idempotent: connecting an already-connected venue is a no-op.
func (v *Venue) Connect(ctx context.Context) error {
	v.mu.Lock()
	if v.connected {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	// Fail fast at startup: the venue must at least answer REST.
	if _, err := v.rest.ping(ctx); err != nil {
		return fmt.Errorf("venue %s: connect: %w", v.cfg.Name, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	v.mu.Lock()
	v.connected = true
	v.cancel = cancel
	v.done = done
	v.mu.Unlock()

	go func() {
		defer close(done)
		v.supervise(runCtx)
	}()

	v.logger.Info("venue connected")
	return nil
}

// Disconnect stops the supervisor and waits for it to exit. Idempotent.
func (v *Venue) Disconnect(ctx context.Context) error {
	v.mu.Lock()
	if !v.connected {
		v.mu.Unlock()
		return nil
	}
	v.connected = false
	cancel := v.cancel
	done := v.done
	v.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("venue %s: disconnect: %w", v.cfg.Name, ctx.Err())
	}
	v.logger.Info("venue disconnected")
	return nil
}

// SubscribeOrderBook registers the symbol for book delivery. With the
// stream up the symbol is subscribed on the live connection right away;
// otherwise the supervisor picks it up on the next (re)connect and the
// polling fallback covers the gap.
func (v *Venue) SubscribeOrderBook(ctx context.Context, symbol string) error {
	v.mu.Lock()
	if !v.connected {
		v.mu.Unlock()
		return fmt.Errorf("venue %s: subscribe %s: %w", v.cfg.Name, symbol, domain.ErrNotConnected)
	}
	if _, ok := v.symbols[symbol]; ok {
		v.mu.Unlock()
		return nil
	}
	v.symbols[symbol] = struct{}{}
	conn := v.ws
	v.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := v.writeJSON(conn, subscribeFrame([]string{symbol})); err != nil {
		// The read loop sees the broken connection and the reconnect
		// resubscribes every tracked symbol, so the failure is not fatal.
		v.logger.Warn("live subscribe failed, deferring to reconnect",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// subscribeFrame builds the outbound book subscription message.
func subscribeFrame(symbols []string) map[string]any {
	return map[string]any{
		"op":      "subscribe",
		"channel": "book",
		"symbols": symbols,
	}
}

// writeJSON sends one frame under the write deadline, serialized against
// the ping writer.
func (v *Venue) writeJSON(conn *websocket.Conn, msg any) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// OnBookUpdate implements domain.Exchange.
func (v *Venue) OnBookUpdate(h domain.BookUpdateHandler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handler = h
}

// PlaceOrder submits an order over signed REST, observing the configured
// rate limit.
func (v *Venue) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if v.limiter != nil && v.cfg.OrderRateLimit > 0 {
		allowed, err := v.limiter.Allow(ctx, "orders:"+v.cfg.Name, v.cfg.OrderRateLimit, v.cfg.OrderRateWindow)
		if err != nil {
			v.logger.Warn("rate limiter unavailable, proceeding",
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			return domain.OrderResult{}, fmt.Errorf("venue %s: place order: %w", v.cfg.Name, domain.ErrRateLimited)
		}
	}
	result, err := v.rest.placeOrder(ctx, order)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("venue %s: place order: %w", v.cfg.Name, err)
	}
	return result, nil
}

// CancelOrder implements domain.Exchange.
func (v *Venue) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if err := v.rest.cancelOrder(ctx, symbol, exchangeOrderID); err != nil {
		return fmt.Errorf("venue %s: cancel order: %w", v.cfg.Name, err)
	}
	return nil
}

// GetBalance implements domain.Exchange.
func (v *Venue) GetBalance(ctx context.Context) (float64, error) {
	balance, err := v.rest.balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("venue %s: balance: %w", v.cfg.Name, err)
	}
	return balance, nil
}

// GetPrice implements domain.Exchange. Returns 0 when the venue has no
// quote; callers treat 0 as "no quote".
func (v *Venue) GetPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := v.rest.ticker(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("venue %s: ticker %s: %w", v.cfg.Name, symbol, err)
	}
	return price, nil
}

// GetPosition implements domain.Exchange.
func (v *Venue) GetPosition(ctx context.Context, symbol string) (float64, error) {
	size, err := v.rest.position(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("venue %s: position %s: %w", v.cfg.Name, symbol, err)
	}
	return size, nil
}

// supervise runs the stream, falling back to REST polling between
// reconnect attempts. After maxReconnects consecutive failures it stops
// delivering; the core's staleness checks take it from there.
func (v *Venue) supervise(ctx context.Context) {
	backoff := reconnectDelay
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := v.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		failures++
		if failures > maxReconnects {
			v.logger.Error("stream failed repeatedly, stopping delivery",
				slog.Int("attempts", failures),
				slog.String("error", err.Error()),
			)
			return
		}

		v.logger.Warn("stream dropped, polling until reconnect",
			slog.Int("attempt", failures),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		v.pollUntil(ctx, time.Now().Add(backoff))

		backoff *= 2
		if backoff > maxReconnectDelay {
			backoff = maxReconnectDelay
		}
	}
}

// wsBookMessage is the inbound book frame.
type wsBookMessage struct {
	Channel string       `json:"channel"`
	Symbol  string       `json:"symbol"`
	Bids    [][2]float64 `json:"bids"`
	Asks    [][2]float64 `json:"asks"`
}

// stream dials the websocket, subscribes the tracked symbols, and pumps
// inbound frames to the handler until the connection fails.
func (v *Venue) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, v.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := v.writeJSON(conn, subscribeFrame(v.trackedSymbols())); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	v.logger.Info("stream subscribed", slog.Int("symbols", len(v.trackedSymbols())))

	// Publish the connection so late subscriptions reach the live stream.
	v.mu.Lock()
	v.ws = conn
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.ws = nil
		v.mu.Unlock()
	}()

	// Keep-alive pings run beside the read loop; closing the connection
	// unblocks both.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				v.writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				v.writeMu.Unlock()
				if err != nil {
					conn.Close()
					return
				}
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		var msg wsBookMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msg.Channel != "book" || msg.Symbol == "" {
			continue
		}
		v.deliver(domain.BookUpdate{
			Symbol:   msg.Symbol,
			Exchange: v.cfg.Name,
			Bids:     toLevels(msg.Bids),
			Asks:     toLevels(msg.Asks),
		})
	}
}

// pollUntil serves REST book snapshots for every tracked symbol at the
// configured cadence until the deadline passes or ctx is cancelled.
func (v *Venue) pollUntil(ctx context.Context, deadline time.Time) {
	ticker := time.NewTicker(v.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				return
			}
			for _, symbol := range v.trackedSymbols() {
				update, err := v.rest.depth(ctx, symbol, v.cfg.BookDepth)
				if err != nil {
					v.logger.Debug("poll snapshot failed",
						slog.String("symbol", symbol),
						slog.String("error", err.Error()),
					)
					continue
				}
				update.Exchange = v.cfg.Name
				v.deliver(update)
			}
		}
	}
}

func (v *Venue) deliver(update domain.BookUpdate) {
	v.mu.Lock()
	h := v.handler
	v.mu.Unlock()
	if h != nil {
		h(update)
	}
}

func (v *Venue) trackedSymbols() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.symbols))
	for s := range v.symbols {
		out = append(out, s)
	}
	return out
}

func toLevels(raw [][2]float64) []domain.Level {
	out := make([]domain.Level, 0, len(raw))
	for _, pair := range raw {
		out = append(out, domain.Level{Price: pair[0], Size: pair[1]})
	}
	return out
}

var _ domain.Exchange = (*Venue)(nil)
