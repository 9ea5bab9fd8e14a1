package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/crypto"
	"github.com/avdimir/signalbot/internal/domain"
)

type stubLimiter struct {
	allow bool
	calls int
}

func (s *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.calls++
	return s.allow, nil
}

func newVenueServer(t *testing.T) (*httptest.Server, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{"server_time": time.Now().Unix()})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mux
}

func newTestVenue(t *testing.T, restURL string, limiter domain.RateLimiter) *Venue {
	t.Helper()
	return NewVenue(VenueConfig{
		Name:            "testvenue",
		WSURL:           "ws://127.0.0.1:1", // never dialed in these tests
		RESTURL:         restURL,
		Auth:            &crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0"},
		OrderRateLimit:  5,
		OrderRateWindow: time.Second,
	}, limiter, testLogger())
}

func TestVenuePlaceOrderSignsRequest(t *testing.T) {
	srv, mux := newVenueServer(t)

	var gotKey, gotSig, gotTS string
	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		gotSig = r.Header.Get("X-API-SIGNATURE")
		gotTS = r.Header.Get("X-API-TIMESTAMP")
		json.NewEncoder(w).Encode(placeOrderResponse{
			OrderID:     "vx-1",
			Status:      "filled",
			FilledSize:  0.5,
			FilledPrice: 50_000,
		})
	})

	v := newTestVenue(t, srv.URL, nil)
	res, err := v.PlaceOrder(context.Background(), domain.Order{
		ID:     "cli-1",
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeLimit,
		Size:   0.5,
		Price:  50_000,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, "vx-1", res.ExchangeOrderID)
	assert.Equal(t, 50_000.0, res.FilledPrice)
	assert.Equal(t, "k", gotKey)
	assert.NotEmpty(t, gotSig)
	assert.NotEmpty(t, gotTS)
}

func TestVenuePlaceOrderRateLimited(t *testing.T) {
	srv, _ := newVenueServer(t)
	limiter := &stubLimiter{allow: false}

	v := newTestVenue(t, srv.URL, limiter)
	_, err := v.PlaceOrder(context.Background(), domain.Order{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Size:   1,
	})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 1, limiter.calls)
}

func TestVenueGetPriceAndDepth(t *testing.T) {
	srv, mux := newVenueServer(t)
	mux.HandleFunc("/api/v1/ticker", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC/USDT", r.URL.Query().Get("symbol"))
		json.NewEncoder(w).Encode(map[string]float64{"price": 50_123})
	})
	mux.HandleFunc("/api/v1/depth", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "BTC/USDT",
			"bids":   [][2]float64{{50_000, 1}},
			"asks":   [][2]float64{{50_010, 1}},
		})
	})

	v := newTestVenue(t, srv.URL, nil)
	ctx := context.Background()

	price, err := v.GetPrice(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 50_123.0, price)

	update, err := v.rest.depth(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	require.Len(t, update.Bids, 1)
	assert.Equal(t, 50_000.0, update.Bids[0].Price)
}

func TestVenueGetPositionSignsRequest(t *testing.T) {
	srv, mux := newVenueServer(t)

	var gotSig string
	mux.HandleFunc("/api/v1/position", func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-API-SIGNATURE")
		assert.Equal(t, "BTC/USDT", r.URL.Query().Get("symbol"))
		json.NewEncoder(w).Encode(map[string]float64{"size": -0.75})
	})

	v := newTestVenue(t, srv.URL, nil)
	size, err := v.GetPosition(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, -0.75, size)
	assert.NotEmpty(t, gotSig)
}

func TestVenueServerErrorMapsToUnavailable(t *testing.T) {
	srv, mux := newVenueServer(t)
	mux.HandleFunc("/api/v1/balance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	v := newTestVenue(t, srv.URL, nil)
	_, err := v.GetBalance(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestVenueSubscribeRequiresConnect(t *testing.T) {
	srv, _ := newVenueServer(t)
	v := newTestVenue(t, srv.URL, nil)
	err := v.SubscribeOrderBook(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestVenueSubscribeOnLiveStream(t *testing.T) {
	srv, mux := newVenueServer(t)

	frames := make(chan []string, 4)
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg struct {
				Op      string   `json:"op"`
				Symbols []string `json:"symbols"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Op == "subscribe" {
				frames <- msg.Symbols
			}
		}
	})

	v := NewVenue(VenueConfig{
		Name:    "testvenue",
		WSURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
		RESTURL: srv.URL,
	}, nil, testLogger())

	ctx := context.Background()
	require.NoError(t, v.Connect(ctx))
	t.Cleanup(func() { _ = v.Disconnect(context.Background()) })

	// Initial subscription goes out as part of the stream setup.
	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial subscribe frame")
	}
	require.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.ws != nil
	}, 2*time.Second, 10*time.Millisecond)

	// A symbol added while the stream is healthy must be subscribed on the
	// live connection, not deferred to the next reconnect.
	require.NoError(t, v.SubscribeOrderBook(ctx, "ETH/USDT"))
	select {
	case symbols := <-frames:
		assert.Equal(t, []string{"ETH/USDT"}, symbols)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe frame for symbol added on a live stream")
	}

	// Resubscribing the same symbol is a no-op.
	require.NoError(t, v.SubscribeOrderBook(ctx, "ETH/USDT"))
	time.Sleep(50 * time.Millisecond)
	select {
	case symbols := <-frames:
		t.Fatalf("unexpected duplicate subscribe frame: %v", symbols)
	default:
	}
}
