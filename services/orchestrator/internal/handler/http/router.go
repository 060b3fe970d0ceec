package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ali449/saga-orchestrator/pkg/health"
	"github.com/ali449/saga-orchestrator/pkg/middleware"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/service"
)

// NewRouter serves the read-only saga inspection API.
func NewRouter(queryService *service.QueryService, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Standard("saga-orchestrator", logger)...)
	middleware.MountOperational(r, healthHandler)

	sagaHandler := NewSagaHandler(queryService, logger)
	r.Route("/api/v1/sagas", func(r chi.Router) {
		r.Get("/", sagaHandler.ListSagas)
		r.Get("/{id}", sagaHandler.GetSaga)
	})
	r.Get("/api/v1/saga-definitions", sagaHandler.ListDefinitions)

	return r
}
