package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ali449/saga-orchestrator/services/payment/internal/provider"
)

// Provider is a mock payment provider for development and testing. It
// accepts every charge up to MaxAmount and every refund.
type Provider struct {
	// Delay simulates provider latency.
	Delay time.Duration
	// MaxAmount declines charges above it. Zero accepts any amount.
	MaxAmount int64
}

// NewProvider creates a new mock payment provider.
func NewProvider(delay time.Duration, maxAmount int64) *Provider {
	return &Provider{Delay: delay, MaxAmount: maxAmount}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "mock"
}

// Charge simulates a payment charge.
func (p *Provider) Charge(ctx context.Context, input *provider.ChargeInput) (*provider.ChargeResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	if p.MaxAmount > 0 && input.Amount > p.MaxAmount {
		return &provider.ChargeResult{
			Status:        provider.StatusFailed,
			FailureReason: fmt.Sprintf("amount %d exceeds limit %d", input.Amount, p.MaxAmount),
		}, nil
	}

	return &provider.ChargeResult{
		ProviderPaymentID: "mock_pay_" + uuid.New().String(),
		Status:            provider.StatusSucceeded,
	}, nil
}

// Refund simulates a payment refund that always succeeds.
func (p *Provider) Refund(ctx context.Context, _ *provider.RefundInput) (*provider.RefundResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	return &provider.RefundResult{
		ProviderRefundID: "mock_ref_" + uuid.New().String(),
		Status:           provider.StatusSucceeded,
	}, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Delay):
		return nil
	}
}
