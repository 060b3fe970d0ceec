package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every message on the bus. Commands and events
// share the same shape; EventType carries the command type for commands.
type Event struct {
	EventID        string            `json:"event_id"`
	EventType      string            `json:"event_type"`
	SagaID         int64             `json:"saga_id,omitempty"`
	SagaInstanceID string            `json:"saga_instance_id,omitempty"`
	AggregateID    string            `json:"aggregate_id"`
	AggregateType  string            `json:"aggregate_type"`
	Version        int               `json:"version"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Source         string            `json:"source"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	Failure        bool              `json:"failure,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates a new event with a generated ID and current timestamp.
func NewEvent(eventType, aggregateID, aggregateType, source string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		Source:        source,
		Payload:       data,
		Metadata:      make(map[string]string),
	}, nil
}

// Reply builds the event a service emits in answer to a command. The saga
// identity, aggregate and payload are carried over so the orchestrator can
// route the reply back to the issuing instance.
func (e *Event) Reply(eventType, source string) *Event {
	return &Event{
		EventID:        uuid.New().String(),
		EventType:      eventType,
		SagaID:         e.SagaID,
		SagaInstanceID: e.SagaInstanceID,
		AggregateID:    e.AggregateID,
		AggregateType:  e.AggregateType,
		Version:        e.Version,
		OccurredAt:     time.Now().UTC(),
		Source:         source,
		CorrelationID:  e.CorrelationID,
		Payload:        e.Payload,
		Metadata:       make(map[string]string),
	}
}

// IsStart reports whether the event starts a saga, i.e. it is not yet
// addressed at a saga instance.
func (e *Event) IsStart() bool {
	return e.SagaInstanceID == ""
}

// WithCorrelationID sets the correlation ID on the event.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithFailure marks the event as a failure reply.
func (e *Event) WithFailure() *Event {
	e.Failure = true
	return e
}

// WithMetadata adds a key-value pair to the event metadata.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// UnmarshalPayload deserializes the event payload into the given target.
func (e *Event) UnmarshalPayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}
