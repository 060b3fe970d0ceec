package repository

import (
	"context"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	"github.com/ali449/saga-orchestrator/services/order/internal/domain"
)

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	Status  *string
	Page    int
	PerPage int
}

// OrderRepository defines the interface for order persistence operations.
type OrderRepository interface {
	// Create inserts a new order. A duplicate ID returns an AlreadyExists error.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// List returns orders matching the given filter along with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// UpdateStatus moves an order to status when it is currently in one of
	// from. It returns a Conflict error when the order exists in another
	// status and NotFound when it does not exist.
	UpdateStatus(ctx context.Context, id string, from []string, status, reason string) error
}

// StatusCache keeps the latest saga snapshot per order.
type StatusCache interface {
	// Put stores snap under its aggregate id. It reports false when the
	// cached snapshot of the same instance is already terminal and snap is not.
	Put(ctx context.Context, snap *contract.Snapshot) (bool, error)

	// Get returns the cached snapshot, or a NotFound error.
	Get(ctx context.Context, aggregateID string) (*contract.Snapshot, error)
}
