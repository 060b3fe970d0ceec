package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/pkg/validator"
	"github.com/ali449/saga-orchestrator/services/order/internal/domain"
	"github.com/ali449/saga-orchestrator/services/order/internal/repository"
)

// Cancellation reasons recorded on orders.
const (
	ReasonNotPublished = "order event not published"
	ReasonCompensated  = "order saga compensated"
)

// EventPublisher publishes ORDER_CREATED and answers orchestrator commands.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *domain.Order) error
	PublishReply(ctx context.Context, cmd *pkgkafka.Event, eventType contract.EventType, failed bool) error
}

// OrderService implements the business logic for order operations.
type OrderService struct {
	repo      repository.OrderRepository
	cache     repository.StatusCache
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service.
func NewOrderService(
	repo repository.OrderRepository,
	cache repository.StatusCache,
	publisher EventPublisher,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderInput holds the parameters for creating an order.
type CreateOrderInput struct {
	StockID  string
	Quantity int64
}

// CreateOrder stores a pending order and publishes ORDER_CREATED to start
// its saga. When the event cannot be published the order is canceled and a
// ServiceUnavailable error is returned.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if strings.TrimSpace(input.StockID) == "" {
		return nil, apperrors.InvalidInput("stock_id is required")
	}
	if input.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be greater than 0")
	}

	now := s.now()
	order := &domain.Order{
		ID:        uuid.New().String(),
		StockID:   input.StockID,
		Quantity:  input.Quantity,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, order); err != nil {
		ordersSubmitted.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
		ordersSubmitted.WithLabelValues("unpublished").Inc()
		s.logger.ErrorContext(ctx, "failed to publish ORDER_CREATED event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		if uerr := s.repo.UpdateStatus(ctx, order.ID, domain.SourcesOf(domain.OrderStatusCanceled), domain.OrderStatusCanceled, ReasonNotPublished); uerr != nil {
			s.logger.ErrorContext(ctx, "failed to cancel unpublished order",
				slog.String("order_id", order.ID),
				slog.String("error", uerr.Error()),
			)
		}
		return nil, apperrors.ServiceUnavailable("order could not be submitted, try again later")
	}
	ordersSubmitted.WithLabelValues("accepted").Inc()

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("stock_id", order.StockID),
		slog.Int64("quantity", order.Quantity),
	)

	return order, nil
}

// GetOrder retrieves an order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return order, nil
}

// ListOrders returns a filtered, paginated list of orders.
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}
	if filter.Status != nil && !domain.IsValidStatus(*filter.Status) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid status %q, must be one of: %s", *filter.Status, strings.Join(domain.ValidStatuses(), ", ")))
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	return orders, total, nil
}

// GetOrderStatus returns the order together with the latest cached snapshot
// of its saga. Saga is nil until the first snapshot arrives.
func (s *OrderService) GetOrderStatus(ctx context.Context, id string) (*domain.OrderStatus, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	status := &domain.OrderStatus{OrderID: order.ID, OrderStatus: order.Status}
	snap, err := s.cache.Get(ctx, id)
	switch {
	case err == nil:
		status.Saga = snap
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		s.logger.WarnContext(ctx, "saga status unavailable",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
	}
	return status, nil
}

// CompleteOrder handles COMPLETE_ORDER. A canceled order cannot be
// completed and is answered with a failure-flagged ORDER_COMPLETED.
func (s *OrderService) CompleteOrder(ctx context.Context, cmd *pkgkafka.Event) error {
	log := s.logger.With(
		slog.String("order_id", cmd.AggregateID),
		slog.String("saga_instance_id", cmd.SagaInstanceID),
	)
	command := contract.CompleteOrder.String()

	order, err := s.repo.GetByID(ctx, cmd.AggregateID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("get order: %w", err)
		}
		return s.completeUnknownOrder(ctx, cmd)
	}

	switch order.Status {
	case domain.OrderStatusCompleted:
		log.InfoContext(ctx, "order already completed")
		commandsHandled.WithLabelValues(command, "noop").Inc()
		return s.publisher.PublishReply(ctx, cmd, contract.OrderCompleted, false)
	case domain.OrderStatusCanceled:
		log.WarnContext(ctx, "cannot complete canceled order", slog.String("reason", order.CanceledReason))
		commandsHandled.WithLabelValues(command, "rejected").Inc()
		return s.publisher.PublishReply(ctx, cmd, contract.OrderCompleted, true)
	}

	if err := s.repo.UpdateStatus(ctx, order.ID, domain.SourcesOf(domain.OrderStatusCompleted), domain.OrderStatusCompleted, ""); err != nil {
		return fmt.Errorf("complete order: %w", err)
	}
	commandsHandled.WithLabelValues(command, "applied").Inc()

	log.InfoContext(ctx, "order completed")
	return s.publisher.PublishReply(ctx, cmd, contract.OrderCompleted, false)
}

// completeUnknownOrder records an order whose saga was started outside this
// service's API.
func (s *OrderService) completeUnknownOrder(ctx context.Context, cmd *pkgkafka.Event) error {
	command := contract.CompleteOrder.String()

	var payload contract.OrderPayload
	if err := cmd.UnmarshalPayload(&payload); err != nil {
		commandsHandled.WithLabelValues(command, "invalid").Inc()
		return s.publisher.PublishReply(ctx, cmd, contract.OrderCompleted, true)
	}
	if err := validator.Validate(payload); err != nil {
		s.logger.WarnContext(ctx, "rejecting completion with invalid payload",
			slog.String("order_id", cmd.AggregateID),
			slog.String("error", err.Error()),
		)
		commandsHandled.WithLabelValues(command, "invalid").Inc()
		return s.publisher.PublishReply(ctx, cmd, contract.OrderCompleted, true)
	}

	now := s.now()
	order := &domain.Order{
		ID:        cmd.AggregateID,
		StockID:   payload.StockID,
		Quantity:  payload.Quantity,
		Status:    domain.OrderStatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return fmt.Errorf("create completed order: %w", err)
	}
	commandsHandled.WithLabelValues(command, "applied").Inc()

	s.logger.InfoContext(ctx, "recorded completed order",
		slog.String("order_id", order.ID),
		slog.String("saga_instance_id", cmd.SagaInstanceID),
	)
	return s.publisher.PublishReply(ctx, cmd, contract.OrderCompleted, false)
}

// CancelOrderCommand handles CANCEL_ORDER. It always confirms with
// ORDER_CANCELLED, also when the order is unknown or already canceled.
func (s *OrderService) CancelOrderCommand(ctx context.Context, cmd *pkgkafka.Event) error {
	log := s.logger.With(
		slog.String("order_id", cmd.AggregateID),
		slog.String("saga_instance_id", cmd.SagaInstanceID),
	)
	command := contract.CancelOrder.String()

	err := s.repo.UpdateStatus(ctx, cmd.AggregateID, domain.SourcesOf(domain.OrderStatusCanceled), domain.OrderStatusCanceled, ReasonCompensated)
	switch {
	case err == nil:
		log.InfoContext(ctx, "order canceled")
		commandsHandled.WithLabelValues(command, "applied").Inc()
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrConflict):
		log.InfoContext(ctx, "nothing to cancel", slog.String("error", err.Error()))
		commandsHandled.WithLabelValues(command, "noop").Inc()
	default:
		return fmt.Errorf("cancel order: %w", err)
	}

	return s.publisher.PublishReply(ctx, cmd, contract.OrderCancelled, false)
}
