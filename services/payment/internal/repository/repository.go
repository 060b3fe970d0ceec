package repository

import (
	"context"

	"github.com/ali449/saga-orchestrator/services/payment/internal/domain"
)

// PaymentRepository defines the interface for payment persistence operations.
type PaymentRepository interface {
	// Create inserts a new payment. A second payment for the same order
	// aggregate returns an AlreadyExists error.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetByAggregateID retrieves the payment charged for an order.
	GetByAggregateID(ctx context.Context, aggregateID string) (*domain.Payment, error)

	// ListRefundsByPaymentID returns all refunds for a given payment.
	ListRefundsByPaymentID(ctx context.Context, paymentID string) ([]domain.Refund, error)

	// RecordRefund stores the refund and marks its payment refunded in one
	// transaction.
	RecordRefund(ctx context.Context, refund *domain.Refund) error
}
