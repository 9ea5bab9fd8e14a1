package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avdimir/signalbot/internal/domain"
)

// MetricStore implements domain.MetricStore using PostgreSQL.
type MetricStore struct {
	pool *pgxpool.Pool
}

// NewMetricStore creates a MetricStore backed by the given pool.
func NewMetricStore(pool *pgxpool.Pool) *MetricStore {
	return &MetricStore{pool: pool}
}

// Save records one gauge observation.
func (s *MetricStore) Save(ctx context.Context, name string, value float64, labels map[string]string, ts time.Time) error {
	raw := []byte("{}")
	if len(labels) > 0 {
		encoded, err := json.Marshal(labels)
		if err != nil {
			return fmt.Errorf("postgres: encode metric labels: %w", err)
		}
		raw = encoded
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO metrics (name, value, labels, observed_at) VALUES ($1, $2, $3, $4)`,
		name, value, raw, ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: save metric %s: %w", name, err)
	}
	return nil
}

var _ domain.MetricStore = (*MetricStore)(nil)
