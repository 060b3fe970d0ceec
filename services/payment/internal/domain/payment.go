package domain

import (
	"errors"
	"time"
)

// Payment status constants.
const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Refund status constants.
const (
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
)

// ErrNotRefundable is returned when refunding a payment that never succeeded.
var ErrNotRefundable = errors.New("payment is not refundable")

// Payment is the charge made for one order saga.
type Payment struct {
	ID             string    `json:"id"`
	AggregateID    string    `json:"aggregate_id"`
	SagaInstanceID string    `json:"saga_instance_id,omitempty"`
	StockID        string    `json:"stock_id"`
	Quantity       int64     `json:"quantity"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	ProviderName   string    `json:"provider_name"`
	ProviderPayID  string    `json:"provider_payment_id,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	Refunds        []Refund  `json:"refunds,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Refund reverses a payment.
type Refund struct {
	ID            string    `json:"id"`
	PaymentID     string    `json:"payment_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason"`
	ProviderRefID string    `json:"provider_refund_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Succeeded reports whether the charge went through.
func (p *Payment) Succeeded() bool {
	return p.Status == PaymentStatusSucceeded
}

// CanRefund returns ErrNotRefundable unless the payment succeeded and was
// not refunded yet.
func (p *Payment) CanRefund() error {
	if p.Status != PaymentStatusSucceeded {
		return ErrNotRefundable
	}
	return nil
}

// ChargeAmount prices quantity units at unitPrice minor units.
func ChargeAmount(quantity, unitPrice int64) int64 {
	return quantity * unitPrice
}
