package domain

import "time"

// OutboxStatus is the delivery state of an outbox message.
type OutboxStatus string

// Outbox status constants.
const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxDead      OutboxStatus = "DEAD"
)

// OutboxMessage is an envelope persisted in the same transaction as the
// state change that produced it, published after commit.
type OutboxMessage struct {
	ID          int64        `json:"id"`
	InstanceID  string       `json:"instance_id"`
	AggregateID string       `json:"aggregate_id"`
	Topic       string       `json:"topic"`
	MessageType string       `json:"message_type"`
	Payload     []byte       `json:"payload"`
	Status      OutboxStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
}
