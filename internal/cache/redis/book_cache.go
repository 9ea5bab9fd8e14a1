package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avdimir/signalbot/internal/domain"
)

// bookTTL bounds how long a stale snapshot survives after the feed stops.
const bookTTL = 30 * time.Second

// BookCache implements domain.BookCache. The full snapshot is stored as a
// JSON blob at "book:{symbol}" and the best bid/ask separately at
// "book:{symbol}:bbo" so BBO reads skip the JSON decode.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(symbol string) string { return "book:" + symbol }
func bboKey(symbol string) string  { return "book:" + symbol + ":bbo" }

type bookSnapshotJSON struct {
	Symbol    string         `json:"symbol"`
	Exchange  string         `json:"exchange"`
	Bids      []domain.Level `json:"bids"`
	Asks      []domain.Level `json:"asks"`
	Timestamp time.Time      `json:"timestamp"`
}

// SetSnapshot replaces the cached snapshot and BBO for a symbol.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	raw, err := json.Marshal(bookSnapshotJSON(snap))
	if err != nil {
		return fmt.Errorf("redis: encode book snapshot %s: %w", snap.Symbol, err)
	}

	pipe := bc.rdb.TxPipeline()
	pipe.Set(ctx, bookKey(snap.Symbol), raw, bookTTL)

	bbo := map[string]any{}
	if len(snap.Bids) > 0 {
		bbo["bid"] = strconv.FormatFloat(snap.Bids[0].Price, 'f', -1, 64)
	}
	if len(snap.Asks) > 0 {
		bbo["ask"] = strconv.FormatFloat(snap.Asks[0].Price, 'f', -1, 64)
	}
	if len(bbo) > 0 {
		pipe.HSet(ctx, bboKey(snap.Symbol), bbo)
		pipe.Expire(ctx, bboKey(snap.Symbol), bookTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot for a symbol, or
// domain.ErrNotFound when none exists.
func (bc *BookCache) GetSnapshot(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	raw, err := bc.rdb.Get(ctx, bookKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BookSnapshot{}, domain.ErrNotFound
		}
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book snapshot %s: %w", symbol, err)
	}

	var snap bookSnapshotJSON
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: decode book snapshot %s: %w", symbol, err)
	}
	return domain.BookSnapshot(snap), nil
}

// GetBBO returns the cached best bid and ask, or domain.ErrNotFound when no
// BBO has been cached.
func (bc *BookCache) GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error) {
	vals, err := bc.rdb.HGetAll(ctx, bboKey(symbol)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(askStr, 64)
	}
	return bestBid, bestAsk, nil
}

var _ domain.BookCache = (*BookCache)(nil)
