package service

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/pkg/pagination"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository"
)

// QueryService serves read-only views of sagas.
type QueryService struct {
	instances repository.InstanceRepository
	registry  *domain.Registry
}

// NewQueryService creates a query service.
func NewQueryService(instances repository.InstanceRepository, registry *domain.Registry) *QueryService {
	return &QueryService{instances: instances, registry: registry}
}

// GetInstance returns an instance with its steps.
func (s *QueryService) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.InvalidInput("saga instance id must be a UUID")
	}
	return s.instances.GetByID(ctx, id, false)
}

// ListByAggregate returns a page of the instances of an aggregate.
func (s *QueryService) ListByAggregate(ctx context.Context, aggregateID string, params pagination.Params) (pagination.Result[domain.Instance], error) {
	if aggregateID == "" {
		return pagination.Result[domain.Instance]{}, apperrors.InvalidInput("aggregate_id is required")
	}
	items, total, err := s.instances.ListByAggregate(ctx, aggregateID, params.PerPage, params.Offset)
	if err != nil {
		return pagination.Result[domain.Instance]{}, err
	}
	return pagination.NewResult(items, total, params), nil
}

// Definitions returns every registered saga definition.
func (s *QueryService) Definitions() []domain.SagaDefinition {
	return s.registry.Definitions()
}
