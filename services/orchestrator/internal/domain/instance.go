package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ali449/saga-orchestrator/pkg/contract"
)

// Status is the state of a saga instance.
type Status string

// Saga instance status constants.
const (
	StatusRunning      Status = "RUNNING"
	StatusCompensating Status = "COMPENSATING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// allowedTransitions lists the legal status changes.
var allowedTransitions = map[Status][]Status{
	StatusRunning:      {StatusCompensating, StatusCompleted, StatusFailed},
	StatusCompensating: {StatusFailed},
}

// Instance is one execution of a saga definition, loaded together with all
// of its step instances.
type Instance struct {
	ID             string          `json:"id"`
	SagaID         int64           `json:"saga_id"`
	AggregateID    string          `json:"aggregate_id"`
	TriggerEventID string          `json:"trigger_event_id"`
	CurrentStep    int             `json:"current_step"`
	Status         Status          `json:"status"`
	Context        json.RawMessage `json:"context"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	Steps          []StepInstance  `json:"steps"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewInstance creates a RUNNING instance at step 0 for the definition. The
// triggering event's payload becomes the immutable saga context.
func NewInstance(def *SagaDefinition, triggerEventID, aggregateID string, payload json.RawMessage, now time.Time) *Instance {
	inst := &Instance{
		ID:             uuid.New().String(),
		SagaID:         def.ID,
		AggregateID:    aggregateID,
		TriggerEventID: triggerEventID,
		CurrentStep:    0,
		Status:         StatusRunning,
		Context:        payload,
		Steps:          []StepInstance{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if def.HasExpiration() {
		expires := now.Add(def.Expiration)
		inst.ExpiresAt = &expires
	}
	return inst
}

// IsTerminal reports whether the instance is COMPLETED or FAILED.
func (i *Instance) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// IsExpired reports whether the instance deadline has passed.
func (i *Instance) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// SetStatus moves the instance to the given status if the state machine
// allows it.
func (i *Instance) SetStatus(to Status, now time.Time) error {
	for _, allowed := range allowedTransitions[i.Status] {
		if allowed == to {
			i.Status = to
			i.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalStatus, i.Status, to)
}

// Advance moves the instance to the next step.
func (i *Instance) Advance(now time.Time) {
	i.CurrentStep++
	i.UpdatedAt = now
}

// HasEvent reports whether a step instance was already completed by the
// event with the given id.
func (i *Instance) HasEvent(eventID string) bool {
	if eventID == "" {
		return false
	}
	for _, s := range i.Steps {
		if s.EventID == eventID {
			return true
		}
	}
	return false
}

// Step returns the step instance for the given step definition id.
func (i *Instance) Step(stepID int64) *StepInstance {
	for idx := range i.Steps {
		if i.Steps[idx].StepID == stepID {
			return &i.Steps[idx]
		}
	}
	return nil
}

// StepFor returns the step instance for def, creating it IN_PROGRESS when
// absent.
func (i *Instance) StepFor(def StepDefinition, now time.Time) *StepInstance {
	if s := i.Step(def.ID); s != nil {
		return s
	}
	i.Steps = append(i.Steps, StepInstance{
		ID:          uuid.New().String(),
		StepID:      def.ID,
		StepOrder:   def.Order,
		Name:        def.Name,
		CommandType: def.Command,
		Status:      StepInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	sort.SliceStable(i.Steps, func(a, b int) bool { return i.Steps[a].StepOrder < i.Steps[b].StepOrder })
	return i.Step(def.ID)
}

// CompensationSettled reports whether every step that was sent a
// compensating command has confirmed it.
func (i *Instance) CompensationSettled() bool {
	for _, s := range i.Steps {
		if s.AwaitsCompensation() {
			return false
		}
	}
	return true
}

// Snapshot builds the status snapshot published after a state change.
func (i *Instance) Snapshot() *contract.Snapshot {
	steps := make([]contract.StepSnapshot, 0, len(i.Steps))
	for _, s := range i.Steps {
		steps = append(steps, contract.StepSnapshot{
			Order:      s.StepOrder,
			Name:       s.Name,
			Status:     string(s.Status),
			RetryCount: s.RetryCount,
		})
	}
	return &contract.Snapshot{
		AggregateID:    i.AggregateID,
		SagaInstanceID: i.ID,
		CurrentStep:    i.CurrentStep,
		Status:         string(i.Status),
		Steps:          steps,
	}
}
