package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avdimir/signalbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Save inserts a submitted order.
func (s *OrderStore) Save(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, symbol, exchange, side, order_type,
			size, price, strategy_name, signal_id, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Symbol, o.Exchange,
		string(o.Side), string(o.Type),
		o.Size, o.Price, o.Strategy, o.SignalID,
		string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus changes the status of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	const query = `
		SELECT id, symbol, exchange, side, order_type,
		       size, price, strategy_name, signal_id, status, created_at
		FROM orders WHERE id = $1`

	var o domain.Order
	var side, orderType, status string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.Symbol, &o.Exchange, &side, &orderType,
		&o.Size, &o.Price, &o.Strategy, &o.SignalID, &status, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
