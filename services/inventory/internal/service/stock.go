package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/pkg/validator"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/domain"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/repository"
)

// ReplyPublisher answers orchestrator commands.
type ReplyPublisher interface {
	PublishReply(ctx context.Context, cmd *pkgkafka.Event, eventType contract.EventType, failed bool) error
}

// ExpiryConfig schedules the reservation expiry job.
type ExpiryConfig struct {
	Interval time.Duration
	Limit    int
}

// StockService implements the business logic for stock reservations.
type StockService struct {
	orders    repository.StockOrderRepository
	ledger    repository.Ledger
	publisher ReplyPublisher
	expiry    ExpiryConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewStockService creates a new stock service.
func NewStockService(
	orders repository.StockOrderRepository,
	ledger repository.Ledger,
	publisher ReplyPublisher,
	expiry ExpiryConfig,
	logger *slog.Logger,
) *StockService {
	return &StockService{
		orders:    orders,
		ledger:    ledger,
		publisher: publisher,
		expiry:    expiry,
		logger:    logger,
		now:       time.Now,
	}
}

// ---------------------------------------------------------------------------
// Saga participation
// ---------------------------------------------------------------------------

// ReserveStock handles RESERVE_STOCK. The order reserves the payload's
// quantity under its aggregate id. A completed order, an invalid payload or
// insufficient stock is answered with a failure-flagged STOCK_RESERVED.
func (s *StockService) ReserveStock(ctx context.Context, cmd *pkgkafka.Event) error {
	log := s.logger.With(
		slog.String("aggregate_id", cmd.AggregateID),
		slog.String("saga_instance_id", cmd.SagaInstanceID),
	)

	payload, err := decodePayload(cmd)
	if err != nil {
		log.WarnContext(ctx, "rejecting reservation with invalid payload", slog.String("error", err.Error()))
		reservationsTotal.WithLabelValues("invalid").Inc()
		return s.publisher.PublishReply(ctx, cmd, contract.StockReserved, true)
	}

	if err := s.orders.CreateIfNotCompleted(ctx, cmd.AggregateID); err != nil {
		if errors.Is(err, domain.ErrOrderCompleted) {
			log.WarnContext(ctx, "refusing reservation for completed order")
			reservationsTotal.WithLabelValues("completed").Inc()
			return s.publisher.PublishReply(ctx, cmd, contract.StockReserved, true)
		}
		return fmt.Errorf("record stock order: %w", err)
	}

	outcome, err := s.ledger.Reserve(ctx, cmd.AggregateID, payload.StockID, payload.Quantity)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidHolder) {
			reservationsTotal.WithLabelValues("invalid").Inc()
			return s.publisher.PublishReply(ctx, cmd, contract.StockReserved, true)
		}
		return fmt.Errorf("reserve stock: %w", err)
	}
	reservationsTotal.WithLabelValues(outcome.String()).Inc()

	if !outcome.Succeeded() {
		if err := s.orders.Delete(ctx, cmd.AggregateID); err != nil {
			return fmt.Errorf("forget stock order: %w", err)
		}
		log.InfoContext(ctx, "insufficient stock",
			slog.String("stock_id", payload.StockID),
			slog.Int64("quantity", payload.Quantity),
		)
		return s.publisher.PublishReply(ctx, cmd, contract.StockReserved, true)
	}

	log.InfoContext(ctx, "stock reserved",
		slog.String("stock_id", payload.StockID),
		slog.Int64("quantity", payload.Quantity),
		slog.String("outcome", outcome.String()),
	)
	return s.publisher.PublishReply(ctx, cmd, contract.StockReserved, false)
}

// ReleaseStock handles RELEASE_STOCK. It always confirms with
// STOCK_RELEASED, also when no reservation was held.
func (s *StockService) ReleaseStock(ctx context.Context, cmd *pkgkafka.Event) error {
	log := s.logger.With(
		slog.String("aggregate_id", cmd.AggregateID),
		slog.String("saga_instance_id", cmd.SagaInstanceID),
	)

	payload, err := decodePayload(cmd)
	if err != nil {
		log.ErrorContext(ctx, "cannot release stock for invalid payload", slog.String("error", err.Error()))
		return s.publisher.PublishReply(ctx, cmd, contract.StockReleased, false)
	}

	released, err := s.ledger.Release(ctx, cmd.AggregateID, payload.StockID)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if err := s.orders.Delete(ctx, cmd.AggregateID); err != nil {
		return fmt.Errorf("forget stock order: %w", err)
	}
	if released {
		reservationsSettled.WithLabelValues("released").Inc()
	}

	log.InfoContext(ctx, "stock released",
		slog.String("stock_id", payload.StockID),
		slog.Bool("held", released),
	)
	return s.publisher.PublishReply(ctx, cmd, contract.StockReleased, false)
}

// CompleteOrder handles SAGA_COMPLETED: the order's reservation is consumed
// and the order may not reserve again.
func (s *StockService) CompleteOrder(ctx context.Context, evt *pkgkafka.Event) error {
	payload, err := decodePayload(evt)
	if err != nil {
		return pkgkafka.Permanent(fmt.Errorf("saga completion payload: %w", err))
	}

	if err := s.orders.MarkCompleted(ctx, evt.AggregateID); err != nil {
		return fmt.Errorf("complete stock order: %w", err)
	}
	committed, err := s.ledger.Commit(ctx, evt.AggregateID, payload.StockID)
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	if committed {
		reservationsSettled.WithLabelValues("committed").Inc()
	}

	s.logger.InfoContext(ctx, "stock order completed",
		slog.String("aggregate_id", evt.AggregateID),
		slog.String("stock_id", payload.StockID),
		slog.Bool("committed", committed),
	)
	return nil
}

func decodePayload(evt *pkgkafka.Event) (*contract.OrderPayload, error) {
	var p contract.OrderPayload
	if err := evt.UnmarshalPayload(&p); err != nil {
		return nil, fmt.Errorf("unmarshal order payload: %w", err)
	}
	if err := validator.Validate(p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// Stock administration
// ---------------------------------------------------------------------------

// IncreaseStock adds amount to the stock and returns the new level.
func (s *StockService) IncreaseStock(ctx context.Context, stockID string, amount int64) (*domain.Stock, error) {
	if stockID == "" {
		return nil, apperrors.InvalidInput("stock_id is required")
	}
	if amount <= 0 {
		return nil, apperrors.InvalidInput("quantity must be positive")
	}

	qty, err := s.ledger.Increase(ctx, stockID, amount)
	if err != nil {
		return nil, fmt.Errorf("increase stock: %w", err)
	}

	s.logger.InfoContext(ctx, "stock increased",
		slog.String("stock_id", stockID),
		slog.Int64("amount", amount),
		slog.Int64("quantity", qty),
	)
	return &domain.Stock{ID: stockID, Quantity: qty}, nil
}

// GetStock returns the unreserved quantity of a stock.
func (s *StockService) GetStock(ctx context.Context, stockID string) (*domain.Stock, error) {
	qty, err := s.ledger.Available(ctx, stockID)
	if err != nil {
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return &domain.Stock{ID: stockID, Quantity: qty}, nil
}

// ClearStock deletes a stock that no reservation holds.
func (s *StockService) ClearStock(ctx context.Context, stockID string) error {
	if err := s.ledger.Clear(ctx, stockID); err != nil {
		if errors.Is(err, domain.ErrStockReserved) {
			return apperrors.Conflict(fmt.Sprintf("stock %s is reserved", stockID))
		}
		return err
	}
	s.logger.InfoContext(ctx, "stock cleared", slog.String("stock_id", stockID))
	return nil
}

// ---------------------------------------------------------------------------
// Reservation expiry
// ---------------------------------------------------------------------------

// ExpireReservations restores one batch of expired reservations and returns
// how many stocks were touched.
func (s *StockService) ExpireReservations(ctx context.Context) (int, error) {
	ids, err := s.ledger.ExpireDue(ctx, s.now(), s.expiry.Limit)
	if err != nil {
		return 0, fmt.Errorf("expire reservations: %w", err)
	}
	if len(ids) > 0 {
		reservationsSettled.WithLabelValues("expired").Add(float64(len(ids)))
		s.logger.WarnContext(ctx, "expired stock reservations",
			slog.Int("count", len(ids)),
			slog.Any("stock_ids", ids),
		)
	}
	return len(ids), nil
}

// RunExpiry runs ExpireReservations every configured interval until ctx is done.
func (s *StockService) RunExpiry(ctx context.Context) error {
	ticker := time.NewTicker(s.expiry.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ExpireReservations(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "reservation expiry failed", slog.String("error", err.Error()))
			}
		}
	}
}
