package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/database"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
)

// OutboxRepository implements repository.OutboxRepository using PostgreSQL.
type OutboxRepository struct {
	db database.DBTX
}

// NewOutboxRepository creates a new PostgreSQL-backed outbox repository.
func NewOutboxRepository(db database.DBTX) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a pending message and sets its generated id.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg *domain.OutboxMessage) error {
	if msg.Status == "" {
		msg.Status = domain.OutboxPending
	}

	query := `
		INSERT INTO saga_outbox (
			instance_id, aggregate_id, topic, message_type, payload, status, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		msg.InstanceID,
		msg.AggregateID,
		msg.Topic,
		msg.MessageType,
		msg.Payload,
		string(msg.Status),
		msg.Attempts,
		msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// FetchPending locks up to limit pending messages in id order.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	query := `
		SELECT id, instance_id, aggregate_id, topic, message_type, payload, attempts, created_at
		FROM saga_outbox
		WHERE status = 'PENDING'
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	defer rows.Close()

	msgs := []domain.OutboxMessage{}
	for rows.Next() {
		m := domain.OutboxMessage{Status: domain.OutboxPending}
		if err := rows.Scan(
			&m.ID,
			&m.InstanceID,
			&m.AggregateID,
			&m.Topic,
			&m.MessageType,
			&m.Payload,
			&m.Attempts,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return msgs, nil
}

// MarkPublished records a successful publication.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64, attempts int, at time.Time) error {
	ct, err := r.db.Exec(ctx,
		`UPDATE saga_outbox SET status = 'PUBLISHED', attempts = $1, published_at = $2 WHERE id = $3`,
		attempts, at, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("outbox_message", fmt.Sprint(id))
	}
	return nil
}

// MarkDead records that publication was abandoned.
func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error {
	ct, err := r.db.Exec(ctx,
		`UPDATE saga_outbox SET status = 'DEAD', attempts = $1, last_error = $2 WHERE id = $3`,
		attempts, lastErr, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox dead: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("outbox_message", fmt.Sprint(id))
	}
	return nil
}
