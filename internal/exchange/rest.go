package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avdimir/signalbot/internal/crypto"
	"github.com/avdimir/signalbot/internal/domain"
)

// restClient wraps the venue's REST API. Mutating endpoints are signed
// with HMAC headers; public market data endpoints are not.
type restClient struct {
	baseURL string
	auth    *crypto.HMACAuth
	http    *http.Client
}

func newRESTClient(baseURL string, auth *crypto.HMACAuth) *restClient {
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// do executes a request and decodes the JSON response into out (if non-nil).
// Signed requests carry the HMAC headers over timestamp+method+path+body.
func (c *restClient) do(ctx context.Context, method, path string, body any, out any, signed bool) error {
	var payload string
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = string(raw)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if c.auth == nil {
			return fmt.Errorf("signed request %s %s without credentials", method, path)
		}
		for k, v := range c.auth.Headers(method, path, payload) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrRateLimited)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, domain.ErrUnavailable)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// ping checks reachability via the public time endpoint.
func (c *restClient) ping(ctx context.Context) (time.Time, error) {
	var resp struct {
		ServerTime int64 `json:"server_time"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/time", nil, &resp, false); err != nil {
		return time.Time{}, err
	}
	return time.Unix(resp.ServerTime, 0), nil
}

// depth fetches a book snapshot for the symbol.
func (c *restClient) depth(ctx context.Context, symbol string, levels int) (domain.BookUpdate, error) {
	var resp struct {
		Symbol string       `json:"symbol"`
		Bids   [][2]float64 `json:"bids"`
		Asks   [][2]float64 `json:"asks"`
	}
	path := fmt.Sprintf("/api/v1/depth?symbol=%s&limit=%d", url.QueryEscape(symbol), levels)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return domain.BookUpdate{}, err
	}
	return domain.BookUpdate{
		Symbol: symbol,
		Bids:   toLevels(resp.Bids),
		Asks:   toLevels(resp.Asks),
	}, nil
}

// ticker fetches the last traded price; 0 means no quote.
func (c *restClient) ticker(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Price float64 `json:"price"`
	}
	path := "/api/v1/ticker?symbol=" + url.QueryEscape(symbol)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return 0, err
	}
	return resp.Price, nil
}

type placeOrderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Size          float64 `json:"size"`
	Price         float64 `json:"price,omitempty"`
}

type placeOrderResponse struct {
	OrderID     string  `json:"order_id"`
	Status      string  `json:"status"`
	FilledSize  float64 `json:"filled_size"`
	FilledPrice float64 `json:"filled_price"`
	Message     string  `json:"message"`
}

// placeOrder submits a signed order and maps the venue status onto the
// domain order result.
func (c *restClient) placeOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	req := placeOrderRequest{
		ClientOrderID: order.ID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          string(order.Type),
		Size:          order.Size,
	}
	if order.Type == domain.OrderTypeLimit {
		req.Price = order.Price
	}

	var resp placeOrderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, &resp, true); err != nil {
		return domain.OrderResult{}, err
	}

	result := domain.OrderResult{
		FilledSize:      resp.FilledSize,
		FilledPrice:     resp.FilledPrice,
		ExchangeOrderID: resp.OrderID,
		Message:         resp.Message,
	}
	switch resp.Status {
	case "filled":
		result.Status = domain.OrderStatusFilled
	case "partial":
		result.Status = domain.OrderStatusPartial
	case "rejected":
		result.Status = domain.OrderStatusRejected
	case "canceled":
		result.Status = domain.OrderStatusCanceled
	default:
		result.Status = domain.OrderStatusPending
	}
	return result, nil
}

// cancelOrder cancels a resting order by venue order ID.
func (c *restClient) cancelOrder(ctx context.Context, symbol, orderID string) error {
	path := fmt.Sprintf("/api/v1/orders/%s?symbol=%s", url.PathEscape(orderID), url.QueryEscape(symbol))
	return c.do(ctx, http.MethodDelete, path, nil, nil, true)
}

// position fetches the net position size for the symbol.
func (c *restClient) position(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Size float64 `json:"size"`
	}
	path := "/api/v1/position?symbol=" + url.QueryEscape(symbol)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.Size, nil
}

// balance fetches the quote-currency account balance.
func (c *restClient) balance(ctx context.Context) (float64, error) {
	var resp struct {
		Balance float64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/balance", nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}
