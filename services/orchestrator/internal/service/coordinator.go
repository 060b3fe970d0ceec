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
	"github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository"
)

// Coordinator unwinds sagas that failed, timed out or could not be
// delivered.
type Coordinator struct {
	registry *domain.Registry
	uow      repository.UnitOfWork
	timeouts *TimeoutService
	after    *committer
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a failure and compensation coordinator.
func NewCoordinator(
	registry *domain.Registry,
	uow repository.UnitOfWork,
	timeouts *TimeoutService,
	status repository.StatusPublisher,
	outbox Notifier,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		registry: registry,
		uow:      uow,
		timeouts: timeouts,
		after:    &committer{timeouts: timeouts, status: status, outbox: outbox, logger: logger},
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnFailure compensates the instance evt is addressed at. Failures raised
// before a saga started, and failures for instances that are already
// terminal or compensating, change nothing.
func (c *Coordinator) OnFailure(ctx context.Context, evt *kafka.Event, cause error) error {
	if evt.IsStart() {
		c.logger.InfoContext(ctx, "failure before saga start, nothing to compensate",
			slog.String("event_id", evt.EventID),
			slog.String("event_type", evt.EventType),
			slog.String("aggregate_id", evt.AggregateID),
		)
		return nil
	}
	if _, err := uuid.Parse(evt.SagaInstanceID); err != nil {
		c.logger.WarnContext(ctx, "failure for malformed saga instance id ignored",
			slog.String("saga_instance_id", evt.SagaInstanceID),
		)
		return nil
	}

	var fx effects
	err := c.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		fx = effects{}
		inst, def, err := c.load(ctx, repos, evt.SagaInstanceID)
		if err != nil || inst == nil {
			return err
		}
		if inst.Status != domain.StatusRunning {
			c.logger.InfoContext(ctx, "failure ignored, saga no longer running",
				slog.String("saga_instance_id", inst.ID),
				slog.String("status", string(inst.Status)),
			)
			return nil
		}
		return c.compensate(ctx, repos, def, inst, evt, cause, &fx)
	})
	if err != nil {
		return fmt.Errorf("compensate saga %s: %w", evt.SagaInstanceID, err)
	}
	c.after.apply(ctx, fx)
	return nil
}

// compensate moves inst to COMPENSATING, marks the in-flight step failed and
// issues compensating commands for the final step, then from the in-flight
// step back to step 1. The final step is compensated even when it was never
// reached. A step is skipped when evt reports the failure of that very step.
func (c *Coordinator) compensate(ctx context.Context, repos repository.Repositories, def *domain.SagaDefinition,
	inst *domain.Instance, evt *kafka.Event, cause error, fx *effects,
) error {
	now := c.now()
	if err := setStatus(inst, domain.StatusCompensating, now); err != nil {
		return err
	}

	detail := "saga failed"
	if cause != nil {
		detail = cause.Error()
	}
	if inflight, ok := def.Step(inst.CurrentStep); ok {
		inst.StepFor(inflight, now).Fail(detail, now)
	}

	orders := make([]int, 0, def.StepCount())
	if last := def.StepCount(); last > inst.CurrentStep {
		orders = append(orders, last)
	}
	for order := inst.CurrentStep; order >= 1; order-- {
		orders = append(orders, order)
	}

	issued := 0
	for _, order := range orders {
		step, ok := def.Step(order)
		if !ok {
			continue
		}
		if evt.Failure && contract.EventType(evt.EventType) == step.ExpectedEvent {
			continue
		}
		cmd := newEnvelope(string(step.Compensation), inst, evt, now)
		if err := enqueue(ctx, repos.Outbox, step.Destination, cmd, now); err != nil {
			return err
		}
		si := inst.Step(step.ID)
		if si == nil {
			si = inst.StepFor(step, now)
			si.Fail("not reached: "+detail, now)
		}
		si.CompensationCommand = step.Compensation
		sagaCompensations.WithLabelValues(string(step.Compensation)).Inc()
		issued++
	}

	if issued == 0 {
		if err := setStatus(inst, domain.StatusFailed, now); err != nil {
			return err
		}
	}

	if err := c.timeouts.CancelTimeout(ctx, repos.Timeouts, inst.TriggerEventID); err != nil {
		return err
	}
	fx.unindex = inst.TriggerEventID

	if err := repos.Instances.Update(ctx, inst); err != nil {
		return err
	}

	c.logger.WarnContext(ctx, "saga compensating",
		slog.String("saga", def.Name),
		slog.String("saga_instance_id", inst.ID),
		slog.String("aggregate_id", inst.AggregateID),
		slog.Int("failed_step", inst.CurrentStep),
		slog.Int("compensations", issued),
		slog.String("cause", detail),
	)

	fx.snapshot = inst.Snapshot()
	fx.outbox = issued > 0
	return nil
}

// OnConsumerExhausted handles a message the consumer gave up on. It matches
// kafka.ExhaustedHandler; the consumer dead-letters the message afterwards.
func (c *Coordinator) OnConsumerExhausted(ctx context.Context, evt *kafka.Event, lastErr error) {
	if err := c.OnFailure(ctx, evt, lastErr); err != nil {
		c.logger.ErrorContext(ctx, "compensation after consumer exhaustion failed",
			slog.String("event_id", evt.EventID),
			slog.String("saga_instance_id", evt.SagaInstanceID),
			slog.String("error", err.Error()),
		)
	}
}

// OnCompensatoryEvent records the confirmation of a compensating command.
// Once every issued compensation is confirmed the saga becomes FAILED.
func (c *Coordinator) OnCompensatoryEvent(ctx context.Context, evt *kafka.Event) error {
	undone, ok := contract.EventType(evt.EventType).Compensates()
	if !ok {
		return fmt.Errorf("%s is not a compensatory event", evt.EventType)
	}
	if _, err := uuid.Parse(evt.SagaInstanceID); err != nil {
		c.logger.WarnContext(ctx, "compensatory event without saga instance ignored",
			slog.String("event_id", evt.EventID),
			slog.String("event_type", evt.EventType),
		)
		return nil
	}

	var fx effects
	err := c.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		fx = effects{}
		inst, def, err := c.load(ctx, repos, evt.SagaInstanceID)
		if err != nil || inst == nil {
			return err
		}
		if inst.Status != domain.StatusCompensating {
			c.logger.InfoContext(ctx, "compensatory event ignored, saga not compensating",
				slog.String("saga_instance_id", inst.ID),
				slog.String("status", string(inst.Status)),
				slog.String("event_type", evt.EventType),
			)
			return nil
		}

		step, ok := def.StepExpecting(undone)
		if !ok {
			return nil
		}
		si := inst.Step(step.ID)
		if si == nil || !si.AwaitsCompensation() {
			return nil
		}

		now := c.now()
		si.Compensate(now)
		if inst.CompensationSettled() {
			if err := setStatus(inst, domain.StatusFailed, now); err != nil {
				return err
			}
			c.logger.InfoContext(ctx, "saga compensated",
				slog.String("saga_instance_id", inst.ID),
				slog.String("aggregate_id", inst.AggregateID),
			)
		}
		if err := repos.Instances.Update(ctx, inst); err != nil {
			return err
		}
		fx.snapshot = inst.Snapshot()
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply %s to saga %s: %w", evt.EventType, evt.SagaInstanceID, err)
	}
	c.after.apply(ctx, fx)
	return nil
}

// OnProducerExhausted fails the instance whose outbound message could not be
// published. No compensation is issued. The relay dead-letters the message.
func (c *Coordinator) OnProducerExhausted(ctx context.Context, msg domain.OutboxMessage, lastErr error) error {
	if _, err := uuid.Parse(msg.InstanceID); err != nil {
		return nil
	}

	var fx effects
	err := c.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		fx = effects{}
		inst, def, err := c.load(ctx, repos, msg.InstanceID)
		if err != nil || inst == nil {
			return err
		}
		if inst.IsTerminal() {
			return nil
		}

		now := c.now()
		if inst.Status == domain.StatusRunning {
			if step, ok := def.Step(inst.CurrentStep); ok {
				inst.StepFor(step, now).Fail(fmt.Sprintf("publish %s: %v", msg.MessageType, lastErr), now)
			}
		}
		if err := setStatus(inst, domain.StatusFailed, now); err != nil {
			return err
		}
		if err := c.timeouts.CancelTimeout(ctx, repos.Timeouts, inst.TriggerEventID); err != nil {
			return err
		}
		fx.unindex = inst.TriggerEventID
		if err := repos.Instances.Update(ctx, inst); err != nil {
			return err
		}

		c.logger.ErrorContext(ctx, "saga failed, outbound message undeliverable",
			slog.String("saga_instance_id", inst.ID),
			slog.String("message_type", msg.MessageType),
			slog.String("topic", msg.Topic),
		)
		fx.snapshot = inst.Snapshot()
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail saga %s: %w", msg.InstanceID, err)
	}
	c.after.apply(ctx, fx)
	return nil
}

// load locks an instance and resolves its definition. A missing instance
// yields nil without error.
func (c *Coordinator) load(ctx context.Context, repos repository.Repositories, id string) (*domain.Instance, *domain.SagaDefinition, error) {
	inst, err := repos.Instances.GetByID(ctx, id, true)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.logger.WarnContext(ctx, "saga instance not found", slog.String("saga_instance_id", id))
			return nil, nil, nil
		}
		return nil, nil, err
	}
	def, ok := c.registry.ByID(inst.SagaID)
	if !ok {
		return nil, nil, fmt.Errorf("saga %d of instance %s is not registered", inst.SagaID, inst.ID)
	}
	return inst, def, nil
}
