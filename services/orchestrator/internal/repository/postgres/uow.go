package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ali449/saga-orchestrator/pkg/database"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository"
)

// UnitOfWork implements repository.UnitOfWork on a PostgreSQL transaction.
type UnitOfWork struct {
	db database.DBTX
}

// NewUnitOfWork creates a unit of work starting its transactions on db.
func NewUnitOfWork(db database.DBTX) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do runs fn with repositories bound to a fresh transaction.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return database.WithTx(ctx, u.db, func(tx pgx.Tx) error {
		return fn(ctx, NewRepositories(tx))
	})
}

// NewRepositories binds every repository to db.
func NewRepositories(db database.DBTX) repository.Repositories {
	return repository.Repositories{
		Instances: NewInstanceRepository(db),
		Outbox:    NewOutboxRepository(db),
		Timeouts:  NewTimeoutRepository(db),
	}
}
