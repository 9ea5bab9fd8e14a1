package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avdimir/signalbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, side, entry_price, current_price, size,
	take_profit, stop_loss, strategy_name, exchange, exchange_order_id,
	unrealized_pnl, realized_pnl, max_adverse_pnl, max_favorable_pnl,
	partial_fills, status, opened_at, closed_at, exit_price`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.ID, &p.Symbol, &side,
		&p.EntryPrice, &p.CurrentPrice, &p.Size,
		&p.TakeProfit, &p.StopLoss,
		&p.Strategy, &p.Exchange, &p.ExchangeOrderID,
		&p.UnrealizedPnL, &p.RealizedPnL,
		&p.MaxAdversePnL, &p.MaxFavorablePnL,
		&p.PartialFills, &status,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.SignalSide(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Save inserts a new position row.
func (s *PositionStore) Save(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, side, entry_price, current_price, size,
			take_profit, stop_loss, strategy_name, exchange, exchange_order_id,
			unrealized_pnl, realized_pnl, max_adverse_pnl, max_favorable_pnl,
			partial_fills, status, opened_at, closed_at, exit_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19, $20, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Side),
		p.EntryPrice, p.CurrentPrice, p.Size,
		p.TakeProfit, p.StopLoss,
		p.Strategy, p.Exchange, p.ExchangeOrderID,
		p.UnrealizedPnL, p.RealizedPnL,
		p.MaxAdversePnL, p.MaxFavorablePnL,
		p.PartialFills, string(p.Status),
		p.OpenedAt, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces the mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			current_price     = $2,
			take_profit       = $3,
			stop_loss         = $4,
			unrealized_pnl    = $5,
			realized_pnl      = $6,
			max_adverse_pnl   = $7,
			max_favorable_pnl = $8,
			partial_fills     = $9,
			status            = $10,
			closed_at         = $11,
			exit_price        = $12,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.CurrentPrice,
		p.TakeProfit, p.StopLoss,
		p.UnrealizedPnL, p.RealizedPnL,
		p.MaxAdversePnL, p.MaxFavorablePnL,
		p.PartialFills, string(p.Status),
		p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks an open position closed with its exit price and realized PnL.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice, realizedPnL float64, closedAt time.Time) error {
	const query = `
		UPDATE positions SET
			status       = 'closed',
			exit_price   = $2,
			realized_pnl = $3,
			closed_at    = $4,
			updated_at   = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, realizedPnL, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetOpen returns all open positions, most recent first.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open positions: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
