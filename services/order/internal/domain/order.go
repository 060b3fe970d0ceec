package domain

import (
	"slices"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
)

// Order status constants.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCanceled  = "canceled"
)

// Order represents a single-item order driven by the order saga. Its ID is
// the saga aggregate id.
type Order struct {
	ID             string    `json:"id"`
	StockID        string    `json:"stock_id"`
	Quantity       int64     `json:"quantity"`
	Status         string    `json:"status"`
	CanceledReason string    `json:"canceled_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrderStatus combines an order with the latest snapshot of its saga.
type OrderStatus struct {
	OrderID     string             `json:"order_id"`
	OrderStatus string             `json:"order_status"`
	Saga        *contract.Snapshot `json:"saga"`
}

// ValidStatuses returns all valid order statuses.
func ValidStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusCompleted,
		OrderStatusCanceled,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	return slices.Contains(ValidStatuses(), status)
}

// AllowedTransitions defines which status transitions are valid. A
// completed order can still be canceled by compensation.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		OrderStatusPending:   {OrderStatusCompleted, OrderStatusCanceled},
		OrderStatusCompleted: {OrderStatusCanceled},
		OrderStatusCanceled:  {},
	}
}

// SourcesOf returns the statuses from which target can be reached.
func SourcesOf(target string) []string {
	var from []string
	for _, s := range ValidStatuses() {
		if slices.Contains(AllowedTransitions()[s], target) {
			from = append(from, s)
		}
	}
	return from
}

// CanTransitionTo checks if the order can transition to the target status.
func (o *Order) CanTransitionTo(target string) bool {
	return slices.Contains(AllowedTransitions()[o.Status], target)
}

// Payload is the saga context carried by the order's ORDER_CREATED event.
func (o *Order) Payload() contract.OrderPayload {
	return contract.OrderPayload{StockID: o.StockID, Quantity: o.Quantity}
}
