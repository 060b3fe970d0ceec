package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PendingTimeout is the durable record of a saga-starting event whose saga
// must finish before Deadline.
type PendingTimeout struct {
	EventID     string          `json:"event_id"`
	SagaID      int64           `json:"saga_id"`
	InstanceID  string          `json:"instance_id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Deadline    time.Time       `json:"deadline"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate rejects a deadline that is not in the future.
func (t *PendingTimeout) Validate(now time.Time) error {
	if t.EventID == "" {
		return fmt.Errorf("pending timeout: event id is required")
	}
	if !t.Deadline.After(now) {
		return fmt.Errorf("%w: %s", ErrDeadlinePassed, t.Deadline.Format(time.RFC3339Nano))
	}
	return nil
}
