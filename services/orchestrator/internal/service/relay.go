package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	"github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/pkg/retry"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository"
)

// DeadLetterer receives envelopes that could not be published.
type DeadLetterer interface {
	PublishEvent(ctx context.Context, topic string, event *kafka.Event, class string, lastErr error) error
}

// ProducerFailureHandler is told about outbox messages given up on.
type ProducerFailureHandler interface {
	OnProducerExhausted(ctx context.Context, msg domain.OutboxMessage, lastErr error) error
}

// RelayConfig controls the outbox relay.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Retry        retry.Policy
}

type deadMessage struct {
	msg   domain.OutboxMessage
	event *kafka.Event
	err   error
}

// Relay publishes committed outbox messages.
type Relay struct {
	uow       repository.UnitOfWork
	publisher kafka.Publisher
	dlq       DeadLetterer
	failures  ProducerFailureHandler
	cfg       RelayConfig
	wake      chan struct{}
	logger    *slog.Logger
	now       func() time.Time
}

// NewRelay creates an outbox relay. The failure handler may be set later
// with SetFailureHandler.
func NewRelay(uow repository.UnitOfWork, publisher kafka.Publisher, dlq DeadLetterer, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.Fixed(3, time.Second)
	}
	return &Relay{
		uow:       uow,
		publisher: publisher,
		dlq:       dlq,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetFailureHandler sets the handler told about undeliverable messages.
func (r *Relay) SetFailureHandler(h ProducerFailureHandler) {
	r.failures = h
}

// Notify wakes the relay without blocking.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Drain publishes one batch of pending messages and returns how many were
// published. Messages whose retries ran out are marked DEAD, reported to the
// failure handler and dead-lettered after the batch commits.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { outboxDrainDuration.Observe(time.Since(start).Seconds()) }()

	var (
		published int
		dead      []deadMessage
	)
	err := r.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		published, dead = 0, nil

		msgs, err := repos.Outbox.FetchPending(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			evt, err := kafka.UnmarshalEvent(m.Payload)
			if err != nil {
				if err := repos.Outbox.MarkDead(ctx, m.ID, m.Attempts, err.Error()); err != nil {
					return err
				}
				dead = append(dead, deadMessage{msg: m, err: err})
				continue
			}

			attempts := 0
			pubErr := retry.Do(ctx, r.logger, r.cfg.Retry, "outbox publish failed, retrying", func() error {
				attempts++
				return r.publisher.Publish(ctx, m.Topic, evt)
			})
			if pubErr == nil {
				if err := repos.Outbox.MarkPublished(ctx, m.ID, m.Attempts+attempts, r.now()); err != nil {
					return err
				}
				published++
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := repos.Outbox.MarkDead(ctx, m.ID, m.Attempts+attempts, pubErr.Error()); err != nil {
				return err
			}
			dead = append(dead, deadMessage{msg: m, event: evt, err: pubErr})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	outboxMessages.WithLabelValues("published").Add(float64(published))
	for _, d := range dead {
		outboxMessages.WithLabelValues("dead").Inc()
		r.bury(ctx, d)
	}
	return published, nil
}

func (r *Relay) bury(ctx context.Context, d deadMessage) {
	r.logger.ErrorContext(ctx, "outbox message undeliverable",
		slog.Int64("outbox_id", d.msg.ID),
		slog.String("topic", d.msg.Topic),
		slog.String("message_type", d.msg.MessageType),
		slog.String("saga_instance_id", d.msg.InstanceID),
		slog.String("payload", string(d.msg.Payload)),
		slog.String("error", d.err.Error()),
	)

	if r.failures != nil {
		if err := r.failures.OnProducerExhausted(ctx, d.msg, d.err); err != nil {
			r.logger.ErrorContext(ctx, "failed to fail saga after publish exhaustion",
				slog.String("saga_instance_id", d.msg.InstanceID),
				slog.String("error", err.Error()),
			)
		}
	}

	if d.event == nil || r.dlq == nil {
		return
	}
	class := kafka.DLQClassEvent
	if _, err := contract.ParseCommandType(d.event.EventType); err == nil {
		class = kafka.DLQClassCommand
	}
	if err := r.dlq.PublishEvent(ctx, d.msg.Topic, d.event, class, d.err); err != nil {
		r.logger.ErrorContext(ctx, "failed to dead-letter outbox message",
			slog.Int64("outbox_id", d.msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Run drains the outbox on every tick and on every Notify until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}

		n, err := r.Drain(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.ErrorContext(ctx, "outbox drain failed", slog.String("error", err.Error()))
			continue
		}
		if n == r.cfg.BatchSize {
			r.Notify()
		}
	}
}
