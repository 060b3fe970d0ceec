package repository

import (
	"context"
	"time"

	"github.com/ali449/saga-orchestrator/services/inventory/internal/domain"
)

// StockOrderRepository tracks which orders drew on stock.
type StockOrderRepository interface {
	// CreateIfNotCompleted records the order. It is a no-op when the order is
	// already recorded and returns domain.ErrOrderCompleted when it completed.
	CreateIfNotCompleted(ctx context.Context, aggregateID string) error

	// Get returns the stock order of an aggregate.
	Get(ctx context.Context, aggregateID string) (*domain.StockOrder, error)

	// MarkCompleted flags the order as completed.
	MarkCompleted(ctx context.Context, aggregateID string) error

	// Delete forgets the order. Deleting a missing order is not an error.
	Delete(ctx context.Context, aggregateID string) error
}

// Ledger holds stock quantities and reservations. Every operation is atomic.
type Ledger interface {
	// Reserve takes quantity from the stock for holderID.
	Reserve(ctx context.Context, holderID, stockID string, quantity int64) (domain.ReserveOutcome, error)

	// Release returns the holder's reserved quantity to the stock. It reports
	// whether a reservation was found.
	Release(ctx context.Context, holderID, stockID string) (bool, error)

	// Commit consumes the holder's reservation without restoring it.
	Commit(ctx context.Context, holderID, stockID string) (bool, error)

	// ExpireDue restores up to limit reservations that expired at or before
	// now and returns the affected stock ids.
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Increase adds amount to the stock and returns the new quantity.
	Increase(ctx context.Context, stockID string, amount int64) (int64, error)

	// Available returns the unreserved quantity of the stock.
	Available(ctx context.Context, stockID string) (int64, error)

	// Clear deletes the stock. It returns domain.ErrStockReserved while any
	// reservation holds it.
	Clear(ctx context.Context, stockID string) error
}
