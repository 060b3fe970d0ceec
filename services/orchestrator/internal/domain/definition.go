package domain

import (
	"fmt"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
)

// StepDefinition is one step of a saga template.
type StepDefinition struct {
	ID            int64                `json:"id"`
	Order         int                  `json:"order"`
	Name          string               `json:"name"`
	Command       contract.CommandType `json:"command"`
	Destination   string               `json:"destination"`
	ExpectedEvent contract.EventType   `json:"expected_event"`
	Compensation  contract.CommandType `json:"compensation"`
}

// SagaDefinition is an immutable saga template. Steps are ordered by Order,
// starting at 1.
type SagaDefinition struct {
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	Version    int                `json:"version"`
	Active     bool               `json:"active"`
	Trigger    contract.EventType `json:"trigger"`
	Expiration time.Duration      `json:"expiration"`
	Steps      []StepDefinition   `json:"steps"`
}

// StepCount returns the number of steps.
func (d *SagaDefinition) StepCount() int {
	return len(d.Steps)
}

// Step returns the step with the given 1-based order.
func (d *SagaDefinition) Step(order int) (StepDefinition, bool) {
	if order < 1 || order > len(d.Steps) {
		return StepDefinition{}, false
	}
	return d.Steps[order-1], true
}

// StepExpecting returns the step whose success event is t.
func (d *SagaDefinition) StepExpecting(t contract.EventType) (StepDefinition, bool) {
	for _, s := range d.Steps {
		if s.ExpectedEvent == t {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// HasExpiration reports whether instances of this saga get a timeout.
func (d *SagaDefinition) HasExpiration() bool {
	return d.Expiration > 0
}

func (d *SagaDefinition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("saga %d: name is required", d.ID)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("saga %q: at least one step is required", d.Name)
	}
	seen := make(map[int64]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if s.Order != i+1 {
			return fmt.Errorf("saga %q: step %q has order %d, want %d", d.Name, s.Name, s.Order, i+1)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("saga %q: duplicate step id %d", d.Name, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Destination == "" {
			return fmt.Errorf("saga %q: step %q has no destination", d.Name, s.Name)
		}
	}
	return nil
}

// Registry holds every saga definition known to the orchestrator. It is
// built once at startup and never mutated.
type Registry struct {
	all       []SagaDefinition
	byID      map[int64]*SagaDefinition
	byTrigger map[contract.EventType]*SagaDefinition
}

// NewRegistry validates the definitions and indexes them. At most one active
// definition may exist per trigger event type.
func NewRegistry(defs ...SagaDefinition) (*Registry, error) {
	r := &Registry{
		all:       make([]SagaDefinition, len(defs)),
		byID:      make(map[int64]*SagaDefinition, len(defs)),
		byTrigger: make(map[contract.EventType]*SagaDefinition, len(defs)),
	}
	copy(r.all, defs)

	for i := range r.all {
		d := &r.all[i]
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate saga id %d", d.ID)
		}
		r.byID[d.ID] = d
		if !d.Active {
			continue
		}
		if other, dup := r.byTrigger[d.Trigger]; dup {
			return nil, fmt.Errorf("sagas %q and %q are both triggered by %s", other.Name, d.Name, d.Trigger)
		}
		r.byTrigger[d.Trigger] = d
	}
	return r, nil
}

// ByTrigger returns the active definition started by the event type.
func (r *Registry) ByTrigger(t contract.EventType) (*SagaDefinition, bool) {
	d, ok := r.byTrigger[t]
	return d, ok
}

// ByID returns the definition with the given id, active or not.
func (r *Registry) ByID(id int64) (*SagaDefinition, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Definitions returns a copy of all definitions.
func (r *Registry) Definitions() []SagaDefinition {
	out := make([]SagaDefinition, len(r.all))
	copy(out, r.all)
	return out
}

// OrderStockSagaID identifies the order saga.
const OrderStockSagaID int64 = 1

// OrderStockSaga reserves stock, charges the payment and completes the order.
func OrderStockSaga(expiration time.Duration) SagaDefinition {
	return SagaDefinition{
		ID:         OrderStockSagaID,
		Name:       "OrderStockSaga",
		Version:    1,
		Active:     true,
		Trigger:    contract.OrderCreated,
		Expiration: expiration,
		Steps: []StepDefinition{
			{
				ID:            1,
				Order:         1,
				Name:          "Reserve Stock",
				Command:       contract.ReserveStock,
				Destination:   contract.InventoryCommands,
				ExpectedEvent: contract.StockReserved,
				Compensation:  contract.ReleaseStock,
			},
			{
				ID:            2,
				Order:         2,
				Name:          "Process Payment",
				Command:       contract.ProcessPayment,
				Destination:   contract.PaymentCommands,
				ExpectedEvent: contract.PaymentSucceeded,
				Compensation:  contract.RefundPayment,
			},
			{
				ID:            3,
				Order:         3,
				Name:          "Complete Order",
				Command:       contract.CompleteOrder,
				Destination:   contract.OrderCommands,
				ExpectedEvent: contract.OrderCompleted,
				Compensation:  contract.CancelOrder,
			},
		},
	}
}
