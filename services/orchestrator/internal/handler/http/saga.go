package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/pkg/httputil"
	"github.com/ali449/saga-orchestrator/pkg/pagination"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/service"
)

// SagaHandler serves read-only saga endpoints.
type SagaHandler struct {
	service *service.QueryService
	logger  *slog.Logger
}

// NewSagaHandler creates a new saga HTTP handler.
func NewSagaHandler(svc *service.QueryService, logger *slog.Logger) *SagaHandler {
	return &SagaHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Response DTOs ---

// StepDefinitionResponse describes one step of a saga template.
type StepDefinitionResponse struct {
	Order         int    `json:"order"`
	Name          string `json:"name"`
	Command       string `json:"command"`
	Destination   string `json:"destination"`
	ExpectedEvent string `json:"expected_event"`
	Compensation  string `json:"compensation"`
}

// SagaDefinitionResponse describes a registered saga template.
type SagaDefinitionResponse struct {
	ID         int64                    `json:"id"`
	Name       string                   `json:"name"`
	Version    int                      `json:"version"`
	Active     bool                     `json:"active"`
	Trigger    string                   `json:"trigger"`
	Expiration string                   `json:"expiration,omitempty"`
	Steps      []StepDefinitionResponse `json:"steps"`
}

func toDefinitionResponse(d domain.SagaDefinition) SagaDefinitionResponse {
	resp := SagaDefinitionResponse{
		ID:      d.ID,
		Name:    d.Name,
		Version: d.Version,
		Active:  d.Active,
		Trigger: string(d.Trigger),
		Steps:   make([]StepDefinitionResponse, len(d.Steps)),
	}
	if d.HasExpiration() {
		resp.Expiration = d.Expiration.String()
	}
	for i, s := range d.Steps {
		resp.Steps[i] = StepDefinitionResponse{
			Order:         s.Order,
			Name:          s.Name,
			Command:       string(s.Command),
			Destination:   s.Destination,
			ExpectedEvent: string(s.ExpectedEvent),
			Compensation:  string(s.Compensation),
		}
	}
	return resp
}

// --- Handlers ---

// GetSaga handles GET /api/v1/sagas/{id}
func (h *SagaHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	inst, err := h.service.GetInstance(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: inst})
}

// ListSagas handles GET /api/v1/sagas?aggregate_id=...
func (h *SagaHandler) ListSagas(w http.ResponseWriter, r *http.Request) {
	aggregateID := r.URL.Query().Get("aggregate_id")
	if aggregateID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("aggregate_id query parameter is required"), h.logger)
		return
	}

	params := pagination.FromRequest(r)
	result, err := h.service.ListByAggregate(r.Context(), aggregateID, params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(result.Data, result.TotalCount, result.Page, result.PerPage))
}

// ListDefinitions handles GET /api/v1/saga-definitions
func (h *SagaHandler) ListDefinitions(w http.ResponseWriter, _ *http.Request) {
	defs := h.service.Definitions()
	resp := make([]SagaDefinitionResponse, len(defs))
	for i, d := range defs {
		resp[i] = toDefinitionResponse(d)
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: resp})
}
