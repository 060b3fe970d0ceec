package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ali449/saga-orchestrator/pkg/database"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/domain"
)

// StockOrderRepository implements repository.StockOrderRepository using PostgreSQL.
type StockOrderRepository struct {
	pool database.DBTX
}

// NewStockOrderRepository creates a new PostgreSQL-backed stock order repository.
func NewStockOrderRepository(pool database.DBTX) *StockOrderRepository {
	return &StockOrderRepository{pool: pool}
}

// CreateIfNotCompleted inserts the stock order, touching it when it already
// exists. A completed order is reported as domain.ErrOrderCompleted.
func (r *StockOrderRepository) CreateIfNotCompleted(ctx context.Context, aggregateID string) error {
	query := `
		INSERT INTO stock_orders (aggregate_id, completed, created_at, updated_at)
		VALUES ($1, FALSE, $2, $2)
		ON CONFLICT (aggregate_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING completed`

	var completed bool
	if err := r.pool.QueryRow(ctx, query, aggregateID, time.Now().UTC()).Scan(&completed); err != nil {
		return fmt.Errorf("create stock order %s: %w", aggregateID, err)
	}
	if completed {
		return domain.ErrOrderCompleted
	}
	return nil
}

// Get retrieves a stock order by aggregate id.
func (r *StockOrderRepository) Get(ctx context.Context, aggregateID string) (*domain.StockOrder, error) {
	query := `
		SELECT aggregate_id, completed, created_at, updated_at
		FROM stock_orders
		WHERE aggregate_id = $1`

	var o domain.StockOrder
	err := r.pool.QueryRow(ctx, query, aggregateID).Scan(
		&o.AggregateID,
		&o.Completed,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock order", aggregateID)
		}
		return nil, fmt.Errorf("get stock order %s: %w", aggregateID, err)
	}
	return &o, nil
}

// MarkCompleted flags the stock order as completed, creating it if needed so
// a late reservation for the same order is refused.
func (r *StockOrderRepository) MarkCompleted(ctx context.Context, aggregateID string) error {
	query := `
		INSERT INTO stock_orders (aggregate_id, completed, created_at, updated_at)
		VALUES ($1, TRUE, $2, $2)
		ON CONFLICT (aggregate_id) DO UPDATE SET completed = TRUE, updated_at = EXCLUDED.updated_at`

	if _, err := r.pool.Exec(ctx, query, aggregateID, time.Now().UTC()); err != nil {
		return fmt.Errorf("complete stock order %s: %w", aggregateID, err)
	}
	return nil
}

// Delete removes the stock order. Removing a missing order is not an error.
func (r *StockOrderRepository) Delete(ctx context.Context, aggregateID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM stock_orders WHERE aggregate_id = $1`, aggregateID); err != nil {
		return fmt.Errorf("delete stock order %s: %w", aggregateID, err)
	}
	return nil
}
