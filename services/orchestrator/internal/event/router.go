package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/service"
)

// SagaRunner applies forward events to saga instances.
type SagaRunner interface {
	Run(ctx context.Context, evt *pkgkafka.Event) (*service.Result, error)
}

// Compensator handles failures and compensation confirmations.
type Compensator interface {
	OnFailure(ctx context.Context, evt *pkgkafka.Event, cause error) error
	OnCompensatoryEvent(ctx context.Context, evt *pkgkafka.Event) error
}

// Router dispatches consumed events to the engine or the coordinator.
type Router struct {
	engine      SagaRunner
	compensator Compensator
	logger      *slog.Logger
}

// NewRouter creates a new event router.
func NewRouter(engine SagaRunner, compensator Compensator, logger *slog.Logger) *Router {
	return &Router{
		engine:      engine,
		compensator: compensator,
		logger:      logger,
	}
}

// Handle is a pkgkafka.Handler. Events the engine refuses are returned as
// permanent errors: they are dead-lettered without retries and without
// triggering compensation.
func (r *Router) Handle(ctx context.Context, evt *pkgkafka.Event) error {
	eventType, err := contract.ParseEventType(evt.EventType)
	if err != nil {
		r.logger.WarnContext(ctx, "unknown event type, skipping",
			slog.String("event_type", evt.EventType),
			slog.String("event_id", evt.EventID),
		)
		return nil
	}

	switch {
	case eventType == contract.SagaCompleted:
		return nil

	case eventType.IsCompensatory():
		if evt.Failure {
			r.logger.ErrorContext(ctx, "compensation reported failure, manual intervention required",
				slog.String("event_type", evt.EventType),
				slog.String("saga_instance_id", evt.SagaInstanceID),
				slog.String("aggregate_id", evt.AggregateID),
			)
			return nil
		}
		return r.compensator.OnCompensatoryEvent(ctx, evt)

	case evt.Failure:
		return r.compensator.OnFailure(ctx, evt, fmt.Errorf("%s reported failure", evt.EventType))
	}

	res, err := r.engine.Run(ctx, evt)
	if err != nil {
		if errors.Is(err, domain.ErrInit) || errors.Is(err, domain.ErrInvalidTransition) {
			return pkgkafka.Permanent(err)
		}
		return err
	}

	r.logger.DebugContext(ctx, "event applied",
		slog.String("event_type", evt.EventType),
		slog.String("saga_instance_id", res.InstanceID),
		slog.Bool("duplicate", res.Duplicate),
	)
	return nil
}

// ConsumerSettings configures the orchestrator's consumers.
type ConsumerSettings struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff time.Duration
	DLQ          pkgkafka.DeadLetterPublisher
	OnExhausted  pkgkafka.ExhaustedHandler
}

// Topics lists the event topics the orchestrator consumes.
var Topics = []string{
	contract.OrderEvents,
	contract.InventoryEvents,
	contract.PaymentEvents,
}

// NewConsumers creates one consumer per event topic, all in the orchestrator
// group.
func NewConsumers(s ConsumerSettings, router *Router, logger *slog.Logger) []*pkgkafka.Consumer {
	consumers := make([]*pkgkafka.Consumer, 0, len(Topics))

	for _, topic := range Topics {
		cfg := pkgkafka.ConsumerConfig{
			Brokers:      s.Brokers,
			GroupID:      contract.OrchestratorGroup,
			Topic:        topic,
			MinBytes:     1,
			MaxBytes:     10e6,
			MaxRetries:   s.MaxRetries,
			RetryBackoff: s.RetryBackoff,
			DLQ:          s.DLQ,
			OnExhausted:  s.OnExhausted,
		}

		consumers = append(consumers, pkgkafka.NewConsumer(cfg, router.Handle, logger))
	}

	return consumers
}
