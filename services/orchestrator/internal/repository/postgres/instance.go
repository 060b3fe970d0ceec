package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	"github.com/ali449/saga-orchestrator/pkg/database"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
)

const pgUniqueViolation = "23505"

const instanceColumns = `id, saga_id, aggregate_id, trigger_event_id, current_step, status,
			context, expires_at, created_at, updated_at`

const stepColumns = `id, step_id, step_order, name, command_type, event_received, event_id,
			status, retry_count, error_detail, compensation_command, created_at, updated_at`

// InstanceRepository implements repository.InstanceRepository using PostgreSQL.
type InstanceRepository struct {
	db database.DBTX
}

// NewInstanceRepository creates a new PostgreSQL-backed saga instance repository.
func NewInstanceRepository(db database.DBTX) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// Create inserts a new saga instance and its step instances.
func (r *InstanceRepository) Create(ctx context.Context, inst *domain.Instance) error {
	query := `
		INSERT INTO saga_instances (
			id, saga_id, aggregate_id, trigger_event_id, current_step, status,
			context, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		inst.ID,
		inst.SagaID,
		inst.AggregateID,
		inst.TriggerEventID,
		inst.CurrentStep,
		string(inst.Status),
		[]byte(inst.Context),
		inst.ExpiresAt,
		inst.CreatedAt,
		inst.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperrors.AlreadyExists("saga_instance", "aggregate_id", inst.AggregateID)
		}
		return fmt.Errorf("insert saga instance: %w", err)
	}

	return r.upsertSteps(ctx, inst)
}

// GetByID retrieves a saga instance and its steps.
func (r *InstanceRepository) GetByID(ctx context.Context, id string, forUpdate bool) (*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM saga_instances
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	inst, err := scanInstance(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("saga_instance", id)
		}
		return nil, fmt.Errorf("get saga instance: %w", err)
	}

	if err := r.loadSteps(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// GetActiveByAggregate retrieves the RUNNING or COMPENSATING instance of an
// aggregate.
func (r *InstanceRepository) GetActiveByAggregate(ctx context.Context, aggregateID string) (*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM saga_instances
		WHERE aggregate_id = $1 AND status IN ('RUNNING', 'COMPENSATING')
		LIMIT 1`

	inst, err := scanInstance(r.db.QueryRow(ctx, query, aggregateID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("saga_instance", aggregateID)
		}
		return nil, fmt.Errorf("get active saga instance: %w", err)
	}

	if err := r.loadSteps(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// ListByAggregate returns a page of instances of an aggregate, newest first.
// Step instances are not loaded.
func (r *InstanceRepository) ListByAggregate(ctx context.Context, aggregateID string, limit, offset int) ([]domain.Instance, int, error) {
	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM saga_instances WHERE aggregate_id = $1`, aggregateID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count saga instances: %w", err)
	}

	query := `SELECT ` + instanceColumns + `
		FROM saga_instances
		WHERE aggregate_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, aggregateID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list saga instances: %w", err)
	}
	defer rows.Close()

	instances := []domain.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan saga instance row: %w", err)
		}
		instances = append(instances, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate saga instance rows: %w", err)
	}

	return instances, total, nil
}

// Update writes back the mutable instance columns and upserts the steps.
func (r *InstanceRepository) Update(ctx context.Context, inst *domain.Instance) error {
	query := `
		UPDATE saga_instances
		SET current_step = $1, status = $2, updated_at = $3
		WHERE id = $4`

	ct, err := r.db.Exec(ctx, query,
		inst.CurrentStep,
		string(inst.Status),
		inst.UpdatedAt,
		inst.ID,
	)
	if err != nil {
		return fmt.Errorf("update saga instance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("saga_instance", inst.ID)
	}

	return r.upsertSteps(ctx, inst)
}

func (r *InstanceRepository) upsertSteps(ctx context.Context, inst *domain.Instance) error {
	query := `
		INSERT INTO saga_step_instances (
			id, instance_id, step_id, step_order, name, command_type, event_received, event_id,
			status, retry_count, error_detail, compensation_command, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (instance_id, step_id) DO UPDATE SET
			event_received = EXCLUDED.event_received,
			event_id = EXCLUDED.event_id,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			error_detail = EXCLUDED.error_detail,
			compensation_command = EXCLUDED.compensation_command,
			updated_at = EXCLUDED.updated_at`

	for i := range inst.Steps {
		s := &inst.Steps[i]
		_, err := r.db.Exec(ctx, query,
			s.ID,
			inst.ID,
			s.StepID,
			s.StepOrder,
			s.Name,
			string(s.CommandType),
			nullableString(string(s.EventReceived)),
			nullableString(s.EventID),
			string(s.Status),
			s.RetryCount,
			nullableString(s.ErrorDetail),
			nullableString(string(s.CompensationCommand)),
			s.CreatedAt,
			s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert step instance %d: %w", s.StepID, err)
		}
	}
	return nil
}

func (r *InstanceRepository) loadSteps(ctx context.Context, inst *domain.Instance) error {
	query := `SELECT ` + stepColumns + `
		FROM saga_step_instances
		WHERE instance_id = $1
		ORDER BY step_order ASC`

	rows, err := r.db.Query(ctx, query, inst.ID)
	if err != nil {
		return fmt.Errorf("list step instances: %w", err)
	}
	defer rows.Close()

	inst.Steps = []domain.StepInstance{}
	for rows.Next() {
		var (
			s                   domain.StepInstance
			commandType, status string
			eventReceived       *string
			eventID             *string
			errorDetail         *string
			compensation        *string
		)
		if err := rows.Scan(
			&s.ID,
			&s.StepID,
			&s.StepOrder,
			&s.Name,
			&commandType,
			&eventReceived,
			&eventID,
			&status,
			&s.RetryCount,
			&errorDetail,
			&compensation,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return fmt.Errorf("scan step instance row: %w", err)
		}
		s.CommandType = contract.CommandType(commandType)
		s.Status = domain.StepStatus(status)
		s.EventReceived = contract.EventType(deref(eventReceived))
		s.EventID = deref(eventID)
		s.ErrorDetail = deref(errorDetail)
		s.CompensationCommand = contract.CommandType(deref(compensation))
		inst.Steps = append(inst.Steps, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate step instance rows: %w", err)
	}
	return nil
}

func scanInstance(row pgx.Row) (*domain.Instance, error) {
	var (
		inst    domain.Instance
		status  string
		payload []byte
	)
	if err := row.Scan(
		&inst.ID,
		&inst.SagaID,
		&inst.AggregateID,
		&inst.TriggerEventID,
		&inst.CurrentStep,
		&status,
		&payload,
		&inst.ExpiresAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inst.Status = domain.Status(status)
	inst.Context = payload
	inst.Steps = []domain.StepInstance{}
	return &inst, nil
}

// nullableString returns nil for empty strings, otherwise a pointer to the string.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
