package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avdimir/signalbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, side, entry_price, exit_price, size,
	pnl, close_reason, strategy_name, exchange, opened_at, closed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeResult, error) {
	var trades []domain.TradeResult
	for rows.Next() {
		var t domain.TradeResult
		var side, reason string
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side,
			&t.EntryPrice, &t.ExitPrice, &t.Size,
			&t.PnL, &reason, &t.Strategy, &t.Exchange,
			&t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.SignalSide(side)
		t.Reason = domain.CloseReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Save inserts a terminal trade record. Re-saving the same trade ID is a
// no-op so retried closes stay idempotent.
func (s *TradeStore) Save(ctx context.Context, t domain.TradeResult) error {
	const query = `
		INSERT INTO trades (
			id, symbol, side, entry_price, exit_price, size,
			pnl, close_reason, strategy_name, exchange, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Side),
		t.EntryPrice, t.ExitPrice, t.Size,
		t.PnL, string(t.Reason), t.Strategy, t.Exchange,
		t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade %s: %w", t.ID, err)
	}
	return nil
}

// List returns closed trades matching the filter, most recent first.
func (s *TradeStore) List(ctx context.Context, filter domain.TradeFilter) ([]domain.TradeResult, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, filter.Symbol)
		argIdx++
	}
	if filter.Strategy != "" {
		query += fmt.Sprintf(" AND strategy_name = $%d", argIdx)
		args = append(args, filter.Strategy)
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *filter.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// PerformanceSummary aggregates closed-trade outcomes between from and to.
func (s *TradeStore) PerformanceSummary(ctx context.Context, from, to time.Time) (domain.PerformanceSummary, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE pnl > 0),
			COUNT(*) FILTER (WHERE pnl <= 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(SUM(pnl) FILTER (WHERE pnl > 0), 0),
			COALESCE(ABS(SUM(pnl) FILTER (WHERE pnl < 0)), 0)
		FROM trades
		WHERE closed_at >= $1 AND closed_at <= $2`

	sum := domain.PerformanceSummary{From: from, To: to}
	err := s.pool.QueryRow(ctx, query, from, to).Scan(
		&sum.Trades, &sum.Wins, &sum.Losses,
		&sum.TotalPnL, &sum.GrossProfit, &sum.GrossLoss,
	)
	if err != nil {
		return domain.PerformanceSummary{}, fmt.Errorf("postgres: performance summary: %w", err)
	}

	if sum.Trades > 0 {
		sum.WinRate = float64(sum.Wins) / float64(sum.Trades) * 100
	}
	if sum.GrossLoss > 0 {
		sum.ProfitFactor = sum.GrossProfit / sum.GrossLoss
	} else if sum.GrossProfit > 0 {
		sum.ProfitFactor = sum.GrossProfit
	}
	return sum, nil
}

// ListOlderThan returns trades closed before the cutoff, oldest first, used
// by the retention archiver.
func (s *TradeStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeResult, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE closed_at < $1 ORDER BY closed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades older than: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades older than: %w", err)
	}
	return trades, nil
}

// DeleteOlderThan removes trades closed before the cutoff and returns the
// number deleted.
func (s *TradeStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades older than: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
