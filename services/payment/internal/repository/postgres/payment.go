package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ali449/saga-orchestrator/pkg/database"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/services/payment/internal/domain"
)

const pgUniqueViolation = "23505"

const paymentColumns = `id, aggregate_id, saga_instance_id, stock_id, quantity, amount, currency,
			status, provider_name, provider_payment_id, failure_reason, created_at, updated_at`

// PaymentRepository implements repository.PaymentRepository using PostgreSQL.
type PaymentRepository struct {
	db database.DBTX
}

// NewPaymentRepository creates a new PostgreSQL-backed payment repository.
func NewPaymentRepository(db database.DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a new payment into the database.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.AggregateID,
		p.SagaInstanceID,
		p.StockID,
		p.Quantity,
		p.Amount,
		p.Currency,
		p.Status,
		p.ProviderName,
		p.ProviderPayID,
		p.FailureReason,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperrors.AlreadyExists("payment", "aggregate_id", p.AggregateID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1`

	return r.scanPayment(ctx, id, query, id)
}

// GetByAggregateID retrieves the payment of an order.
func (r *PaymentRepository) GetByAggregateID(ctx context.Context, aggregateID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE aggregate_id = $1`

	return r.scanPayment(ctx, aggregateID, query, aggregateID)
}

// ListRefundsByPaymentID returns all refunds for a given payment.
func (r *PaymentRepository) ListRefundsByPaymentID(ctx context.Context, paymentID string) ([]domain.Refund, error) {
	query := `
		SELECT id, payment_id, amount, currency, status, reason, provider_refund_id, created_at, updated_at
		FROM refunds
		WHERE payment_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list refunds by payment: %w", err)
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var ref domain.Refund
		if err := rows.Scan(
			&ref.ID,
			&ref.PaymentID,
			&ref.Amount,
			&ref.Currency,
			&ref.Status,
			&ref.Reason,
			&ref.ProviderRefID,
			&ref.CreatedAt,
			&ref.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan refund row: %w", err)
		}
		refunds = append(refunds, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}

	if refunds == nil {
		refunds = []domain.Refund{}
	}

	return refunds, nil
}

// RecordRefund inserts the refund and flips its payment to refunded. Only a
// succeeded payment can be refunded; anything else is a conflict.
func (r *PaymentRepository) RecordRefund(ctx context.Context, ref *domain.Refund) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE payments
			SET status = $1, updated_at = $2
			WHERE id = $3 AND status = $4`,
			domain.PaymentStatusRefunded,
			ref.UpdatedAt,
			ref.PaymentID,
			domain.PaymentStatusSucceeded,
		)
		if err != nil {
			return fmt.Errorf("mark payment refunded: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return apperrors.Conflict(fmt.Sprintf("payment %s is not refundable", ref.PaymentID))
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO refunds (id, payment_id, amount, currency, status, reason, provider_refund_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			ref.ID,
			ref.PaymentID,
			ref.Amount,
			ref.Currency,
			ref.Status,
			ref.Reason,
			ref.ProviderRefID,
			ref.CreatedAt,
			ref.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}
		return nil
	})
}

// scanPayment executes a query expected to return a single payment row.
func (r *PaymentRepository) scanPayment(ctx context.Context, key, query string, args ...any) (*domain.Payment, error) {
	var p domain.Payment

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&p.ID,
		&p.AggregateID,
		&p.SagaInstanceID,
		&p.StockID,
		&p.Quantity,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.ProviderName,
		&p.ProviderPayID,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment", key)
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	return &p, nil
}
