package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ali449/saga-orchestrator/pkg/database"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
)

const timeoutColumns = `event_id, saga_id, instance_id, aggregate_id, event_type, payload,
			occurred_at, deadline, created_at`

// TimeoutRepository implements repository.TimeoutRepository using PostgreSQL.
type TimeoutRepository struct {
	db database.DBTX
}

// NewTimeoutRepository creates a new PostgreSQL-backed pending timeout repository.
func NewTimeoutRepository(db database.DBTX) *TimeoutRepository {
	return &TimeoutRepository{db: db}
}

// Insert stores a pending timeout, ignoring an existing event id.
func (r *TimeoutRepository) Insert(ctx context.Context, pt *domain.PendingTimeout) error {
	query := `
		INSERT INTO pending_timeouts (` + timeoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		pt.EventID,
		pt.SagaID,
		pt.InstanceID,
		pt.AggregateID,
		pt.EventType,
		[]byte(pt.Payload),
		pt.OccurredAt,
		pt.Deadline,
		pt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pending timeout: %w", err)
	}
	return nil
}

// Get retrieves a pending timeout by the id of its saga-starting event.
func (r *TimeoutRepository) Get(ctx context.Context, eventID string) (*domain.PendingTimeout, error) {
	query := `SELECT ` + timeoutColumns + ` FROM pending_timeouts WHERE event_id = $1`

	pt, err := scanTimeout(r.db.QueryRow(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("pending_timeout", eventID)
		}
		return nil, fmt.Errorf("get pending timeout: %w", err)
	}
	return pt, nil
}

// Delete removes a pending timeout.
func (r *TimeoutRepository) Delete(ctx context.Context, eventID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM pending_timeouts WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("delete pending timeout: %w", err)
	}
	return nil
}

// ListAll returns every pending timeout ordered by deadline.
func (r *TimeoutRepository) ListAll(ctx context.Context) ([]domain.PendingTimeout, error) {
	query := `SELECT ` + timeoutColumns + ` FROM pending_timeouts ORDER BY deadline ASC`
	return r.list(ctx, "list pending timeouts", query)
}

// ListDue returns up to limit pending timeouts whose deadline is at or
// before the given time, earliest first.
func (r *TimeoutRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]domain.PendingTimeout, error) {
	query := `
		SELECT ` + timeoutColumns + `
		FROM pending_timeouts
		WHERE deadline <= $1
		ORDER BY deadline ASC
		LIMIT $2`
	return r.list(ctx, "list due pending timeouts", query, before, limit)
}

func (r *TimeoutRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.PendingTimeout, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []domain.PendingTimeout{}
	for rows.Next() {
		pt, err := scanTimeout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending timeout row: %w", err)
		}
		out = append(out, *pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending timeout rows: %w", err)
	}
	return out, nil
}

func scanTimeout(row pgx.Row) (*domain.PendingTimeout, error) {
	var (
		pt      domain.PendingTimeout
		payload []byte
	)
	if err := row.Scan(
		&pt.EventID,
		&pt.SagaID,
		&pt.InstanceID,
		&pt.AggregateID,
		&pt.EventType,
		&payload,
		&pt.OccurredAt,
		&pt.Deadline,
		&pt.CreatedAt,
	); err != nil {
		return nil, err
	}
	pt.Payload = payload
	return &pt, nil
}
