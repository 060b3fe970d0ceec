package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ali449/saga-orchestrator/pkg/database"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/services/order/internal/domain"
	"github.com/ali449/saga-orchestrator/services/order/internal/repository"
)

// --- Test Helpers ---

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*OrderRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock := database.NewMockPool(t)
	repo := NewOrderRepository(mock)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func sampleOrder() *domain.Order {
	return &domain.Order{
		ID:        "order-001",
		StockID:   "sku-1",
		Quantity:  2,
		Status:    domain.OrderStatusPending,
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
}

var orderColumns = []string{"id", "stock_id", "quantity", "status", "canceled_reason", "created_at", "updated_at"}

// ─── Create ──────────────────────────────────────────────────────────────────

func TestCreate_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	o := sampleOrder()

	mock.ExpectExec("INSERT INTO orders").
		WithArgs(o.ID, o.StockID, o.Quantity, o.Status, o.CanceledReason, o.CreatedAt, o.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("INSERT INTO orders").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "orders_pkey"})

	err := repo.Create(context.Background(), sampleOrder())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ExecError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("INSERT INTO orders").WillReturnError(errors.New("connection refused"))

	err := repo.Create(context.Background(), sampleOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert order")
}

// ─── GetByID ─────────────────────────────────────────────────────────────────

func TestGetByID_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	o := sampleOrder()

	mock.ExpectQuery("SELECT .+ FROM orders").
		WithArgs(o.ID).
		WillReturnRows(pgxmock.NewRows(orderColumns).
			AddRow(o.ID, o.StockID, o.Quantity, o.Status, o.CanceledReason, o.CreatedAt, o.UpdatedAt))

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT .+ FROM orders").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// ─── List ────────────────────────────────────────────────────────────────────

func TestList_NoFilter(t *testing.T) {
	repo, mock := newTestRepo(t)
	o := sampleOrder()

	mock.ExpectQuery("SELECT .+ FROM orders").
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows(append(orderColumns, "total_count")).
			AddRow(o.ID, o.StockID, o.Quantity, o.Status, o.CanceledReason, o.CreatedAt, o.UpdatedAt, 1))

	orders, total, err := repo.List(context.Background(), repository.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orders, 1)
	assert.Equal(t, o.ID, orders[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_StatusFilterAndPaging(t *testing.T) {
	repo, mock := newTestRepo(t)
	status := domain.OrderStatusCanceled

	mock.ExpectQuery("SELECT .+ FROM orders\\s+WHERE status = \\$1").
		WithArgs(status, 5, 10).
		WillReturnRows(pgxmock.NewRows(append(orderColumns, "total_count")))

	orders, total, err := repo.List(context.Background(), repository.OrderFilter{Status: &status, Page: 3, PerPage: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_QueryError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnError(errors.New("timeout"))

	_, _, err := repo.List(context.Background(), repository.OrderFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list orders")
}

// ─── UpdateStatus ────────────────────────────────────────────────────────────

func TestUpdateStatus_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	from := []string{domain.OrderStatusPending}

	mock.ExpectExec("UPDATE orders").
		WithArgs(domain.OrderStatusCompleted, "", fixedNow, "order-001", from).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateStatus(context.Background(), "order-001", from, domain.OrderStatusCompleted, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_Conflict(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("UPDATE orders").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("order-001").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.UpdateStatus(context.Background(), "order-001", []string{domain.OrderStatusPending}, domain.OrderStatusCompleted, "")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("UPDATE orders").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("order-404").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.UpdateStatus(context.Background(), "order-404", []string{domain.OrderStatusPending}, domain.OrderStatusCanceled, "saga compensation")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateStatus_ExecError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("UPDATE orders").WillReturnError(errors.New("deadlock"))

	err := repo.UpdateStatus(context.Background(), "order-001", nil, domain.OrderStatusCanceled, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update order status")
}
