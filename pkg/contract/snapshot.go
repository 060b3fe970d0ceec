package contract

import (
	"encoding/json"
	"fmt"
)

// StepSnapshot is the progress of one step in a status snapshot.
type StepSnapshot struct {
	Order      int    `json:"order"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
}

// Snapshot is published on StatusChannel after every saga state change.
type Snapshot struct {
	AggregateID    string         `json:"aggregate_id"`
	SagaInstanceID string         `json:"saga_instance_id,omitempty"`
	CurrentStep    int            `json:"current_step"`
	Status         string         `json:"status"`
	Steps          []StepSnapshot `json:"steps"`
	Message        string         `json:"message,omitempty"`
	// Rejected marks a report for an event the engine refused to apply. It
	// does not describe the state of an instance.
	Rejected bool `json:"rejected,omitempty"`
}

// Marshal serializes the snapshot to JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot parses a snapshot published on StatusChannel.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// OrderPayload is the context payload of an order saga. It travels unchanged
// from ORDER_CREATED into every command.
type OrderPayload struct {
	StockID  string `json:"stockId" validate:"required"`
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
}
