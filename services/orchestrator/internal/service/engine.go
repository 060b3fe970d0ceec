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

// Result describes the outcome of one engine run.
type Result struct {
	Success bool
	// Duplicate is set when the event had already been applied.
	Duplicate  bool
	InstanceID string
	// Outbound holds the envelopes enqueued by the run: the next command, or
	// the saga-completed event once the last step succeeded.
	Outbound []*kafka.Event
	Snapshot *contract.Snapshot
	// CausalEvent is the event that completed the saga, nil otherwise.
	CausalEvent *kafka.Event
}

// Engine advances saga instances as events arrive.
type Engine struct {
	registry *domain.Registry
	uow      repository.UnitOfWork
	timeouts *TimeoutService
	after    *committer
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a saga orchestration engine.
func NewEngine(
	registry *domain.Registry,
	uow repository.UnitOfWork,
	timeouts *TimeoutService,
	status repository.StatusPublisher,
	outbox Notifier,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry: registry,
		uow:      uow,
		timeouts: timeouts,
		after:    &committer{timeouts: timeouts, status: status, outbox: outbox, logger: logger},
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run applies evt. An event without a saga instance id starts a saga; any
// other event continues the instance it names. Every state change, outbox
// row and timeout record of the run commits in one transaction.
//
// Run returns an error wrapping domain.ErrInit when the event cannot be bound
// to an instance, and domain.ErrInvalidTransition when it does not match the
// instance's current step. Both are reported on the status channel.
func (e *Engine) Run(ctx context.Context, evt *kafka.Event) (*Result, error) {
	var (
		res *Result
		fx  effects
	)
	err := e.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		fx = effects{}
		var err error
		if evt.IsStart() {
			res, err = e.start(ctx, repos, evt, &fx)
		} else {
			res, err = e.advance(ctx, repos, evt, &fx)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInit) || errors.Is(err, domain.ErrInvalidTransition) {
			sagaEventsHandled.WithLabelValues(evt.EventType, "rejected").Inc()
			e.logger.WarnContext(ctx, "saga event rejected",
				slog.String("event_id", evt.EventID),
				slog.String("event_type", evt.EventType),
				slog.String("aggregate_id", evt.AggregateID),
				slog.String("saga_instance_id", evt.SagaInstanceID),
				slog.String("error", err.Error()),
			)
			e.after.publish(ctx, rejectionReport(evt, err))
			return nil, err
		}
		sagaEventsHandled.WithLabelValues(evt.EventType, "error").Inc()
		return nil, err
	}

	e.after.apply(ctx, fx)

	outcome := "advanced"
	switch {
	case res.Duplicate:
		outcome = "duplicate"
	case res.CausalEvent != nil:
		outcome = "completed"
	}
	sagaEventsHandled.WithLabelValues(evt.EventType, outcome).Inc()
	return res, nil
}

func (e *Engine) start(ctx context.Context, repos repository.Repositories, evt *kafka.Event, fx *effects) (*Result, error) {
	trigger, err := contract.ParseEventType(evt.EventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInit, err)
	}
	def, ok := e.registry.ByTrigger(trigger)
	if !ok {
		return nil, fmt.Errorf("%w: no active saga is triggered by %s", domain.ErrInit, trigger)
	}

	active, err := repos.Instances.GetActiveByAggregate(ctx, evt.AggregateID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: aggregate %s already has saga %s in progress", domain.ErrInit, evt.AggregateID, active.ID)
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	now := e.now()
	inst := domain.NewInstance(def, evt.EventID, evt.AggregateID, evt.Payload, now)
	inst.Advance(now)

	if err := repos.Instances.Create(ctx, inst); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: saga for event %s already started", domain.ErrInit, evt.EventID)
		}
		return nil, err
	}

	if def.HasExpiration() {
		pt := &domain.PendingTimeout{
			EventID:     evt.EventID,
			SagaID:      def.ID,
			InstanceID:  inst.ID,
			AggregateID: inst.AggregateID,
			EventType:   evt.EventType,
			Payload:     evt.Payload,
			OccurredAt:  evt.OccurredAt,
			Deadline:    *inst.ExpiresAt,
			CreatedAt:   now,
		}
		if err := e.timeouts.ScheduleTimeout(ctx, repos.Timeouts, pt); err != nil {
			return nil, err
		}
		fx.index = pt
	}

	first, _ := def.Step(inst.CurrentStep)
	cmd := newEnvelope(string(first.Command), inst, evt, now)
	if err := enqueue(ctx, repos.Outbox, first.Destination, cmd, now); err != nil {
		return nil, err
	}
	sagaStatusChanges.WithLabelValues(string(domain.StatusRunning)).Inc()

	e.logger.InfoContext(ctx, "saga started",
		slog.String("saga", def.Name),
		slog.String("saga_instance_id", inst.ID),
		slog.String("aggregate_id", inst.AggregateID),
		slog.String("command", cmd.EventType),
	)

	fx.snapshot = inst.Snapshot()
	fx.outbox = true
	return &Result{
		Success:    true,
		InstanceID: inst.ID,
		Outbound:   []*kafka.Event{cmd},
		Snapshot:   fx.snapshot,
	}, nil
}

func (e *Engine) advance(ctx context.Context, repos repository.Repositories, evt *kafka.Event, fx *effects) (*Result, error) {
	if _, err := uuid.Parse(evt.SagaInstanceID); err != nil {
		return nil, fmt.Errorf("%w: malformed saga instance id %q", domain.ErrInit, evt.SagaInstanceID)
	}
	inst, err := repos.Instances.GetByID(ctx, evt.SagaInstanceID, true)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: saga instance %s not found", domain.ErrInit, evt.SagaInstanceID)
		}
		return nil, err
	}
	def, ok := e.registry.ByID(inst.SagaID)
	if !ok {
		return nil, fmt.Errorf("%w: saga %d of instance %s is not registered", domain.ErrInit, inst.SagaID, inst.ID)
	}

	now := e.now()
	switch {
	case inst.IsTerminal():
		return nil, fmt.Errorf("%w: saga instance %s is %s", domain.ErrInit, inst.ID, inst.Status)
	case inst.Status != domain.StatusRunning:
		return nil, fmt.Errorf("%w: saga instance %s is %s", domain.ErrInit, inst.ID, inst.Status)
	case inst.IsExpired(now):
		return nil, fmt.Errorf("%w: saga instance %s expired at %s", domain.ErrInit, inst.ID, inst.ExpiresAt.Format(time.RFC3339))
	}

	if inst.HasEvent(evt.EventID) {
		e.logger.InfoContext(ctx, "duplicate saga event ignored",
			slog.String("event_id", evt.EventID),
			slog.String("saga_instance_id", inst.ID),
		)
		return &Result{Success: true, Duplicate: true, InstanceID: inst.ID, Snapshot: inst.Snapshot()}, nil
	}

	step, ok := def.Step(inst.CurrentStep)
	if !ok {
		return nil, fmt.Errorf("%w: saga instance %s has no step %d", domain.ErrInit, inst.ID, inst.CurrentStep)
	}
	if contract.EventType(evt.EventType) != step.ExpectedEvent {
		return nil, fmt.Errorf("%w: step %d of saga instance %s expects %s, got %s",
			domain.ErrInvalidTransition, step.Order, inst.ID, step.ExpectedEvent, evt.EventType)
	}

	inst.StepFor(step, now).Complete(step.ExpectedEvent, evt.EventID, now)
	inst.Advance(now)

	res := &Result{Success: true, InstanceID: inst.ID}
	if next, ok := def.Step(inst.CurrentStep); ok {
		cmd := newEnvelope(string(next.Command), inst, evt, now)
		if err := enqueue(ctx, repos.Outbox, next.Destination, cmd, now); err != nil {
			return nil, err
		}
		res.Outbound = []*kafka.Event{cmd}
	} else {
		if err := setStatus(inst, domain.StatusCompleted, now); err != nil {
			return nil, err
		}
		if err := e.timeouts.CancelTimeout(ctx, repos.Timeouts, inst.TriggerEventID); err != nil {
			return nil, err
		}
		fx.unindex = inst.TriggerEventID

		done := newEnvelope(string(contract.SagaCompleted), inst, evt, now)
		if err := enqueue(ctx, repos.Outbox, contract.OrchestratorEvents, done, now); err != nil {
			return nil, err
		}
		res.Outbound = []*kafka.Event{done}
		res.CausalEvent = evt

		e.logger.InfoContext(ctx, "saga completed",
			slog.String("saga", def.Name),
			slog.String("saga_instance_id", inst.ID),
			slog.String("aggregate_id", inst.AggregateID),
		)
	}

	if err := repos.Instances.Update(ctx, inst); err != nil {
		return nil, err
	}

	fx.snapshot = inst.Snapshot()
	fx.outbox = true
	res.Snapshot = fx.snapshot
	return res, nil
}

// rejectionReport is the FAILED report published for an event the engine
// refused to apply.
func rejectionReport(evt *kafka.Event, cause error) *contract.Snapshot {
	return &contract.Snapshot{
		AggregateID:    evt.AggregateID,
		SagaInstanceID: evt.SagaInstanceID,
		Status:         string(domain.StatusFailed),
		Steps:          []contract.StepSnapshot{},
		Message:        cause.Error(),
		Rejected:       true,
	}
}
