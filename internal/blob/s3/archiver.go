package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/avdimir/signalbot/internal/domain"
)

// archiveLockTTL must outlive the slowest expected export.
const archiveLockTTL = 10 * time.Minute

// BlobWriter is the upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Archiver exports trades older than the retention window as gzipped JSONL
// objects and deletes them from the primary store once the upload succeeds.
// A distributed lock keeps concurrent deployments from double-archiving.
type Archiver struct {
	writer BlobWriter
	trades domain.TradeStore
	locks  domain.LockManager
	logger *slog.Logger
}

// NewArchiver creates an Archiver. The lock manager may be nil, in which
// case runs are unguarded.
func NewArchiver(writer BlobWriter, trades domain.TradeStore, locks domain.LockManager, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		locks:  locks,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run archives all trades older than the retention window. A run that loses
// the lock race returns nil: another instance is doing the work.
func (a *Archiver) Run(ctx context.Context, retention time.Duration) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, "archive:trades", archiveLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "archive lock held elsewhere, skipping run")
				return nil
			}
			return fmt.Errorf("s3blob: acquire archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().Add(-retention)
	count, err := a.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return err
	}
	if count > 0 {
		a.logger.InfoContext(ctx, "trade archive run complete",
			slog.Int64("archived", count),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}

// ArchiveTrades exports trades closed before the cutoff to
// archive/trades/YYYY-MM-DD.jsonl.gz and deletes them from the store. The
// delete only happens after a successful upload, so a failed run leaves the
// rows in place for the next attempt.
func (a *Archiver) ArchiveTrades(ctx context.Context, cutoff time.Time) (int64, error) {
	all, err := a.trades.ListOlderThan(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list aged trades: %w", err)
	}
	if len(all) == 0 {
		return 0, nil
	}

	payload, err := gzipJSONL(all)
	if err != nil {
		return 0, fmt.Errorf("s3blob: encode trade archive: %w", err)
	}

	key := fmt.Sprintf("archive/trades/%s.jsonl.gz", cutoff.Format("2006-01-02"))
	if err := a.writer.Put(ctx, key, bytes.NewReader(payload), "application/gzip"); err != nil {
		return 0, fmt.Errorf("s3blob: upload trade archive: %w", err)
	}

	deleted, err := a.trades.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return int64(len(all)), fmt.Errorf("s3blob: delete archived trades: %w", err)
	}
	if deleted != int64(len(all)) {
		a.logger.WarnContext(ctx, "archived and deleted counts differ",
			slog.Int("archived", len(all)),
			slog.Int64("deleted", deleted),
		)
	}
	return deleted, nil
}

// gzipJSONL serializes records as newline-delimited JSON and compresses the
// result.
func gzipJSONL(trades []domain.TradeResult) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)

	for i, t := range trades {
		if err := enc.Encode(t); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}
