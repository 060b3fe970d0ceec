package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository"
)

// FailureHandler is notified when a saga deadline passes.
type FailureHandler interface {
	OnFailure(ctx context.Context, evt *kafka.Event, cause error) error
}

// TimeoutConfig controls the timeout poller.
type TimeoutConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// TimeoutService keeps the durable timeout records and the expiry index in
// step and fires due timeouts.
type TimeoutService struct {
	timeouts repository.TimeoutRepository
	index    repository.TimeoutIndex
	failures FailureHandler
	cfg      TimeoutConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewTimeoutService creates a timeout service. timeouts is used by the
// poller and by Recover, outside any saga transaction.
func NewTimeoutService(
	timeouts repository.TimeoutRepository,
	index repository.TimeoutIndex,
	cfg TimeoutConfig,
	logger *slog.Logger,
) *TimeoutService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &TimeoutService{
		timeouts: timeouts,
		index:    index,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetFailureHandler sets the handler due timeouts are delivered to. It must
// be called before Poll or Run.
func (s *TimeoutService) SetFailureHandler(h FailureHandler) {
	s.failures = h
}

// ScheduleTimeout stores pt through tx, the timeout repository of the
// caller's transaction. Once the transaction commits the caller passes pt
// to Index.
func (s *TimeoutService) ScheduleTimeout(ctx context.Context, tx repository.TimeoutRepository, pt *domain.PendingTimeout) error {
	if err := pt.Validate(s.now()); err != nil {
		return err
	}
	return tx.Insert(ctx, pt)
}

// CancelTimeout removes the timeout of a saga-starting event through tx.
// Once the transaction commits the caller passes eventID to Unindex.
// Cancelling an unknown event id is a no-op.
func (s *TimeoutService) CancelTimeout(ctx context.Context, tx repository.TimeoutRepository, eventID string) error {
	return tx.Delete(ctx, eventID)
}

// Index adds a committed timeout to the expiry index. A failure is logged;
// the poller's sweep indexes the record once it is overdue.
func (s *TimeoutService) Index(ctx context.Context, pt *domain.PendingTimeout) {
	if err := s.index.Add(ctx, pt.EventID, pt.Deadline); err != nil {
		s.logger.ErrorContext(ctx, "failed to index timeout",
			slog.String("event_id", pt.EventID),
			slog.String("error", err.Error()),
		)
	}
}

// Unindex drops a cancelled timeout from the expiry index. A leftover
// entry is harmless: firing it finds no durable record.
func (s *TimeoutService) Unindex(ctx context.Context, eventID string) {
	if err := s.index.Remove(ctx, eventID); err != nil {
		s.logger.ErrorContext(ctx, "failed to unindex timeout",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}
}

// Poll re-indexes overdue durable records, then fires every due timeout in
// one batch and returns how many fired.
func (s *TimeoutService) Poll(ctx context.Context) (int, error) {
	now := s.now()
	s.sweep(ctx, now)

	ids, err := s.index.PopDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, id := range ids {
		if s.fire(ctx, id) {
			fired++
		}
	}
	return fired, nil
}

// sweep indexes durable records overdue by more than one poll interval.
// Their index entry was lost after commit or never written.
func (s *TimeoutService) sweep(ctx context.Context, now time.Time) {
	overdue, err := s.timeouts.ListDue(ctx, now.Add(-s.cfg.PollInterval), s.cfg.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list overdue timeouts", slog.String("error", err.Error()))
		return
	}
	for _, pt := range overdue {
		s.reindex(ctx, pt.EventID, pt.Deadline)
	}
	if len(overdue) > 0 {
		sagaTimeoutsReindexed.Add(float64(len(overdue)))
	}
}

func (s *TimeoutService) fire(ctx context.Context, eventID string) bool {
	pt, err := s.timeouts.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "timeout without durable record skipped", slog.String("event_id", eventID))
			return false
		}
		s.logger.ErrorContext(ctx, "failed to load timeout", slog.String("event_id", eventID), slog.String("error", err.Error()))
		s.reindex(ctx, eventID, s.now())
		return false
	}

	if err := s.failures.OnFailure(ctx, timeoutEvent(pt), fmt.Errorf("%w: deadline %s", domain.ErrTimedOut, pt.Deadline.Format(time.RFC3339))); err != nil {
		s.logger.ErrorContext(ctx, "failed to deliver timeout",
			slog.String("event_id", eventID),
			slog.String("saga_instance_id", pt.InstanceID),
			slog.String("error", err.Error()),
		)
		s.reindex(ctx, eventID, pt.Deadline)
		return false
	}

	if err := s.timeouts.Delete(ctx, eventID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete fired timeout", slog.String("event_id", eventID), slog.String("error", err.Error()))
	}
	sagaTimeoutsFired.Inc()
	s.logger.WarnContext(ctx, "saga timed out",
		slog.String("saga_instance_id", pt.InstanceID),
		slog.String("aggregate_id", pt.AggregateID),
	)
	return true
}

func (s *TimeoutService) reindex(ctx context.Context, eventID string, at time.Time) {
	if err := s.index.Add(ctx, eventID, at); err != nil {
		s.logger.ErrorContext(ctx, "failed to re-index timeout", slog.String("event_id", eventID), slog.String("error", err.Error()))
	}
}

// Recover indexes every durable timeout record, restoring an index lost with
// its Redis instance.
func (s *TimeoutService) Recover(ctx context.Context) (int, error) {
	pending, err := s.timeouts.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, pt := range pending {
		if err := s.index.Add(ctx, pt.EventID, pt.Deadline); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// Run polls on the configured interval until ctx is done.
func (s *TimeoutService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "timeout poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// timeoutEvent rebuilds the saga-starting event addressed at its instance.
func timeoutEvent(pt *domain.PendingTimeout) *kafka.Event {
	return &kafka.Event{
		EventID:        pt.EventID,
		EventType:      pt.EventType,
		SagaID:         pt.SagaID,
		SagaInstanceID: pt.InstanceID,
		AggregateID:    pt.AggregateID,
		AggregateType:  contract.AggregateOrder,
		Version:        1,
		OccurredAt:     pt.OccurredAt,
		Source:         SourceOrchestrator,
		Payload:        pt.Payload,
	}
}
