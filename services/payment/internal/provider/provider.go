package provider

import (
	"context"
)

// Charge and refund result statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ChargeInput holds the parameters for charging an order.
type ChargeInput struct {
	// IdempotencyKey lets the provider collapse a redelivered charge.
	IdempotencyKey string
	Amount         int64
	Currency       string
	Description    string
}

// ChargeResult holds the result of a charge operation from the payment provider.
type ChargeResult struct {
	ProviderPaymentID string
	Status            string
	FailureReason     string
}

// Succeeded reports whether the provider accepted the charge.
func (r *ChargeResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// RefundInput holds the parameters for refunding a payment.
type RefundInput struct {
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Reason            string
}

// RefundResult holds the result of a refund operation from the payment provider.
type RefundResult struct {
	ProviderRefundID string
	Status           string
	FailureReason    string
}

// Provider defines the interface for payment provider integrations.
type Provider interface {
	// Name returns the provider name (e.g., "mock").
	Name() string

	// Charge processes a charge through the provider. A declined charge is
	// reported in the result, not as an error.
	Charge(ctx context.Context, input *ChargeInput) (*ChargeResult, error)

	// Refund processes a refund through the provider.
	Refund(ctx context.Context, input *RefundInput) (*RefundResult, error)
}
