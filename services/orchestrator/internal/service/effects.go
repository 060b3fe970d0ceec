package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	"github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository"
)

// SourceOrchestrator identifies envelopes produced by the orchestrator.
const SourceOrchestrator = "saga-orchestrator"

// Notifier is woken after a commit that enqueued outbox messages.
type Notifier interface {
	Notify()
}

// effects collects the side effects of a committed transaction that live
// outside Postgres.
type effects struct {
	index    *domain.PendingTimeout
	unindex  string
	snapshot *contract.Snapshot
	outbox   bool
}

// committer applies effects once the transaction that produced them has
// committed. Failures are logged, never returned.
type committer struct {
	timeouts *TimeoutService
	status   repository.StatusPublisher
	outbox   Notifier
	logger   *slog.Logger
}

func (c *committer) apply(ctx context.Context, fx effects) {
	if fx.index != nil {
		c.timeouts.Index(ctx, fx.index)
	}
	if fx.unindex != "" {
		c.timeouts.Unindex(ctx, fx.unindex)
	}
	if fx.outbox && c.outbox != nil {
		c.outbox.Notify()
	}
	if fx.snapshot != nil {
		c.publish(ctx, fx.snapshot)
	}
}

func (c *committer) publish(ctx context.Context, snap *contract.Snapshot) {
	if err := c.status.Publish(ctx, snap); err != nil {
		c.logger.ErrorContext(ctx, "failed to publish saga status",
			slog.String("aggregate_id", snap.AggregateID),
			slog.String("saga_instance_id", snap.SagaInstanceID),
			slog.String("error", err.Error()),
		)
	}
}

// newEnvelope builds an outbound envelope for inst carrying the saga context
// as payload.
func newEnvelope(messageType string, inst *domain.Instance, cause *kafka.Event, now time.Time) *kafka.Event {
	aggregateType := contract.AggregateOrder
	if cause != nil && cause.AggregateType != "" {
		aggregateType = cause.AggregateType
	}
	evt := &kafka.Event{
		EventID:        uuid.New().String(),
		EventType:      messageType,
		SagaID:         inst.SagaID,
		SagaInstanceID: inst.ID,
		AggregateID:    inst.AggregateID,
		AggregateType:  aggregateType,
		Version:        1,
		OccurredAt:     now,
		Source:         SourceOrchestrator,
		Payload:        inst.Context,
		Metadata:       map[string]string{},
	}
	if cause != nil {
		evt.CorrelationID = cause.CorrelationID
	}
	return evt
}

// enqueue stores evt in the outbox for publication to topic.
func enqueue(ctx context.Context, outbox repository.OutboxRepository, topic string, evt *kafka.Event, now time.Time) error {
	data, err := evt.Marshal()
	if err != nil {
		return err
	}
	return outbox.Enqueue(ctx, &domain.OutboxMessage{
		InstanceID:  evt.SagaInstanceID,
		AggregateID: evt.AggregateID,
		Topic:       topic,
		MessageType: evt.EventType,
		Payload:     data,
		Status:      domain.OutboxPending,
		CreatedAt:   now,
	})
}

// setStatus changes the instance status and records the transition.
func setStatus(inst *domain.Instance, to domain.Status, now time.Time) error {
	if err := inst.SetStatus(to, now); err != nil {
		return err
	}
	sagaStatusChanges.WithLabelValues(string(to)).Inc()
	return nil
}
