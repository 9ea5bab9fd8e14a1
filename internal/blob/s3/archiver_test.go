package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/domain"
)

type fakeWriter struct {
	key     string
	payload []byte
	err     error
}

func (f *fakeWriter) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.key = key
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.payload = raw
	return nil
}

type fakeTradeStore struct {
	domain.TradeStore
	trades  []domain.TradeResult
	deleted bool
}

func (f *fakeTradeStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeResult, error) {
	var out []domain.TradeResult
	for _, t := range f.trades {
		if t.ClosedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.TradeResult
	var deleted int64
	for _, t := range f.trades {
		if t.ClosedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	f.trades = kept
	f.deleted = true
	return deleted, nil
}

type fakeLocks struct {
	err      error
	acquired bool
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired = true
	return func() {}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveTradesUploadsAndDeletes(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeTradeStore{trades: []domain.TradeResult{
		{ID: "t1", Symbol: "BTC/USDT", PnL: 12.5, ClosedAt: now.Add(-48 * time.Hour)},
		{ID: "t2", Symbol: "ETH/USDT", PnL: -3.0, ClosedAt: now.Add(-36 * time.Hour)},
		{ID: "t3", Symbol: "BTC/USDT", PnL: 7.0, ClosedAt: now.Add(-time.Hour)},
	}}
	writer := &fakeWriter{}
	a := NewArchiver(writer, store, nil, discardLogger())

	cutoff := now.Add(-24 * time.Hour)
	count, err := a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The recent trade survives in the store.
	require.Len(t, store.trades, 1)
	assert.Equal(t, "t3", store.trades[0].ID)

	// The payload is gzipped JSONL of the two aged trades.
	assert.Contains(t, writer.key, "archive/trades/")
	gz, err := gzip.NewReader(bytes.NewReader(writer.payload))
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.Len(t, lines, 2)
	var first domain.TradeResult
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "t1", first.ID)
}

func TestArchiveTradesNothingToDo(t *testing.T) {
	store := &fakeTradeStore{}
	writer := &fakeWriter{}
	a := NewArchiver(writer, store, nil, discardLogger())

	count, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.key)
	assert.False(t, store.deleted)
}

func TestArchiveTradesKeepsRowsOnUploadFailure(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeTradeStore{trades: []domain.TradeResult{
		{ID: "t1", ClosedAt: now.Add(-48 * time.Hour)},
	}}
	writer := &fakeWriter{err: io.ErrClosedPipe}
	a := NewArchiver(writer, store, nil, discardLogger())

	_, err := a.ArchiveTrades(context.Background(), now)
	assert.Error(t, err)
	assert.False(t, store.deleted)
	assert.Len(t, store.trades, 1)
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	store := &fakeTradeStore{trades: []domain.TradeResult{
		{ID: "t1", ClosedAt: time.Now().Add(-48 * time.Hour)},
	}}
	writer := &fakeWriter{}
	locks := &fakeLocks{err: domain.ErrLockHeld}
	a := NewArchiver(writer, store, locks, discardLogger())

	err := a.Run(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, writer.key)
	assert.False(t, store.deleted)
}
