package repository

import (
	"context"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
)

// InstanceRepository persists saga instances together with their step
// instances.
type InstanceRepository interface {
	// Create inserts a new instance and its step instances. A second
	// non-terminal instance for the same aggregate, or a reused trigger event
	// id, yields apperrors.ErrAlreadyExists.
	Create(ctx context.Context, inst *domain.Instance) error

	// GetByID loads an instance with its steps. When forUpdate is set the
	// instance row stays locked until the surrounding transaction ends.
	GetByID(ctx context.Context, id string, forUpdate bool) (*domain.Instance, error)

	// GetActiveByAggregate returns the non-terminal instance of an aggregate.
	GetActiveByAggregate(ctx context.Context, aggregateID string) (*domain.Instance, error)

	// ListByAggregate returns a page of instances of an aggregate, newest
	// first, along with the total count.
	ListByAggregate(ctx context.Context, aggregateID string, limit, offset int) ([]domain.Instance, int, error)

	// Update writes back the instance row and upserts every step instance.
	Update(ctx context.Context, inst *domain.Instance) error
}

// OutboxRepository stores envelopes awaiting publication.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg *domain.OutboxMessage) error

	// FetchPending locks up to limit pending messages, oldest first, skipping
	// rows locked by another relay.
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error)

	MarkPublished(ctx context.Context, id int64, attempts int, at time.Time) error
	MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error
}

// TimeoutRepository is the durable side of the timeout subsystem.
type TimeoutRepository interface {
	// Insert stores the record. Inserting an existing event id is a no-op.
	Insert(ctx context.Context, pt *domain.PendingTimeout) error
	Get(ctx context.Context, eventID string) (*domain.PendingTimeout, error)
	// Delete removes the record. Deleting a missing event id is a no-op.
	Delete(ctx context.Context, eventID string) error
	ListAll(ctx context.Context) ([]domain.PendingTimeout, error)
	// ListDue returns up to limit records whose deadline is at or before
	// before, earliest first.
	ListDue(ctx context.Context, before time.Time, limit int) ([]domain.PendingTimeout, error)
}

// Repositories groups the repositories bound to one transaction.
type Repositories struct {
	Instances InstanceRepository
	Outbox    OutboxRepository
	Timeouts  TimeoutRepository
}

// UnitOfWork runs fn with repositories sharing a single transaction. The
// transaction commits when fn returns nil.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// TimeoutIndex is the time-ordered expiry index of pending timeouts.
type TimeoutIndex interface {
	Add(ctx context.Context, eventID string, deadline time.Time) error
	Remove(ctx context.Context, eventID string) error
	// PopDue atomically removes and returns up to limit event ids whose
	// deadline is at or before now.
	PopDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// StatusPublisher broadcasts saga status snapshots.
type StatusPublisher interface {
	Publish(ctx context.Context, snap *contract.Snapshot) error
}
