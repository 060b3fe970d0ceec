package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/pkg/validator"
	"github.com/ali449/saga-orchestrator/services/payment/internal/domain"
	"github.com/ali449/saga-orchestrator/services/payment/internal/provider"
	"github.com/ali449/saga-orchestrator/services/payment/internal/repository"
)

// ReplyPublisher answers orchestrator commands.
type ReplyPublisher interface {
	PublishReply(ctx context.Context, cmd *pkgkafka.Event, eventType contract.EventType, failed bool) error
}

// Pricing turns an order quantity into a charge.
type Pricing struct {
	UnitPrice int64
	Currency  string
}

// PaymentService implements the payment side of the order saga.
type PaymentService struct {
	repo      repository.PaymentRepository
	provider  provider.Provider
	publisher ReplyPublisher
	pricing   Pricing
	logger    *slog.Logger
	now       func() time.Time
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	repo repository.PaymentRepository,
	prov provider.Provider,
	publisher ReplyPublisher,
	pricing Pricing,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		repo:      repo,
		provider:  prov,
		publisher: publisher,
		pricing:   pricing,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessPayment handles PROCESS_PAYMENT. An order is charged at most once;
// a redelivered command is answered from the stored payment. A declined
// charge or an invalid payload is answered with a failure-flagged
// PAYMENT_SUCCEEDED.
func (s *PaymentService) ProcessPayment(ctx context.Context, cmd *pkgkafka.Event) error {
	log := s.logger.With(
		slog.String("aggregate_id", cmd.AggregateID),
		slog.String("saga_instance_id", cmd.SagaInstanceID),
	)

	var payload contract.OrderPayload
	if err := cmd.UnmarshalPayload(&payload); err != nil {
		log.WarnContext(ctx, "rejecting payment with unreadable payload", slog.String("error", err.Error()))
		chargesTotal.WithLabelValues("invalid").Inc()
		return s.publisher.PublishReply(ctx, cmd, contract.PaymentSucceeded, true)
	}
	if err := validator.Validate(payload); err != nil {
		log.WarnContext(ctx, "rejecting payment with invalid payload", slog.String("error", err.Error()))
		chargesTotal.WithLabelValues("invalid").Inc()
		return s.publisher.PublishReply(ctx, cmd, contract.PaymentSucceeded, true)
	}

	existing, err := s.repo.GetByAggregateID(ctx, cmd.AggregateID)
	switch {
	case err == nil:
		log.InfoContext(ctx, "order already charged", slog.String("status", existing.Status))
		return s.publisher.PublishReply(ctx, cmd, contract.PaymentSucceeded, !existing.Succeeded())
	case !errors.Is(err, apperrors.ErrNotFound):
		return fmt.Errorf("get payment: %w", err)
	}

	amount := domain.ChargeAmount(payload.Quantity, s.pricing.UnitPrice)
	result, err := s.provider.Charge(ctx, &provider.ChargeInput{
		IdempotencyKey: cmd.AggregateID,
		Amount:         amount,
		Currency:       s.pricing.Currency,
		Description:    fmt.Sprintf("order %s: %d x %s", cmd.AggregateID, payload.Quantity, payload.StockID),
	})
	if err != nil {
		chargesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("charge via %s: %w", s.provider.Name(), err)
	}

	now := s.now()
	payment := &domain.Payment{
		ID:             uuid.New().String(),
		AggregateID:    cmd.AggregateID,
		SagaInstanceID: cmd.SagaInstanceID,
		StockID:        payload.StockID,
		Quantity:       payload.Quantity,
		Amount:         amount,
		Currency:       s.pricing.Currency,
		Status:         domain.PaymentStatusFailed,
		ProviderName:   s.provider.Name(),
		ProviderPayID:  result.ProviderPaymentID,
		FailureReason:  result.FailureReason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if result.Succeeded() {
		payment.Status = domain.PaymentStatusSucceeded
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			// A concurrent delivery stored its payment first.
			existing, getErr := s.repo.GetByAggregateID(ctx, cmd.AggregateID)
			if getErr != nil {
				return fmt.Errorf("get payment: %w", getErr)
			}
			return s.publisher.PublishReply(ctx, cmd, contract.PaymentSucceeded, !existing.Succeeded())
		}
		return fmt.Errorf("create payment: %w", err)
	}
	chargesTotal.WithLabelValues(payment.Status).Inc()

	log.InfoContext(ctx, "payment processed",
		slog.String("payment_id", payment.ID),
		slog.String("status", payment.Status),
		slog.Int64("amount", amount),
		slog.String("failure_reason", payment.FailureReason),
	)
	return s.publisher.PublishReply(ctx, cmd, contract.PaymentSucceeded, !payment.Succeeded())
}

// RefundPayment handles REFUND_PAYMENT. It always confirms with
// PAYMENT_REFUNDED, also when the order was never charged or is already
// refunded.
func (s *PaymentService) RefundPayment(ctx context.Context, cmd *pkgkafka.Event) error {
	log := s.logger.With(
		slog.String("aggregate_id", cmd.AggregateID),
		slog.String("saga_instance_id", cmd.SagaInstanceID),
	)

	payment, err := s.repo.GetByAggregateID(ctx, cmd.AggregateID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.InfoContext(ctx, "nothing to refund, order was never charged")
			refundsTotal.WithLabelValues("noop").Inc()
			return s.publisher.PublishReply(ctx, cmd, contract.PaymentRefunded, false)
		}
		return fmt.Errorf("get payment: %w", err)
	}

	if err := payment.CanRefund(); err != nil {
		log.InfoContext(ctx, "nothing to refund", slog.String("status", payment.Status))
		refundsTotal.WithLabelValues("noop").Inc()
		return s.publisher.PublishReply(ctx, cmd, contract.PaymentRefunded, false)
	}

	result, err := s.provider.Refund(ctx, &provider.RefundInput{
		ProviderPaymentID: payment.ProviderPayID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Reason:            "order saga compensation",
	})
	if err != nil {
		refundsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("refund via %s: %w", s.provider.Name(), err)
	}
	if result.Status != provider.StatusSucceeded {
		refundsTotal.WithLabelValues("declined").Inc()
		return fmt.Errorf("refund declined by %s: %s", s.provider.Name(), result.FailureReason)
	}

	now := s.now()
	refund := &domain.Refund{
		ID:            uuid.New().String(),
		PaymentID:     payment.ID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Status:        domain.RefundStatusSucceeded,
		Reason:        "order saga compensation",
		ProviderRefID: result.ProviderRefundID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.RecordRefund(ctx, refund); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			return fmt.Errorf("record refund: %w", err)
		}
		log.WarnContext(ctx, "payment refunded concurrently", slog.String("payment_id", payment.ID))
	} else {
		refundsTotal.WithLabelValues("refunded").Inc()
	}

	log.InfoContext(ctx, "payment refunded",
		slog.String("payment_id", payment.ID),
		slog.String("refund_id", refund.ID),
		slog.Int64("amount", refund.Amount),
	)
	return s.publisher.PublishReply(ctx, cmd, contract.PaymentRefunded, false)
}

// GetPayment returns a payment with its refunds.
func (s *PaymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withRefunds(ctx, payment)
}

// GetPaymentByOrder returns the payment charged for an order, with its refunds.
func (s *PaymentService) GetPaymentByOrder(ctx context.Context, aggregateID string) (*domain.Payment, error) {
	if aggregateID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}
	payment, err := s.repo.GetByAggregateID(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	return s.withRefunds(ctx, payment)
}

func (s *PaymentService) withRefunds(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	refunds, err := s.repo.ListRefundsByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	payment.Refunds = refunds
	return payment, nil
}
