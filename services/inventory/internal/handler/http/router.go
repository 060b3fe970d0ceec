package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ali449/saga-orchestrator/pkg/health"
	"github.com/ali449/saga-orchestrator/pkg/middleware"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/service"
)

// NewRouter serves stock administration. Reservations only change through
// saga commands.
func NewRouter(stockService *service.StockService, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Standard("inventory-service", logger)...)
	middleware.MountOperational(r, healthHandler)

	stockHandler := NewStockHandler(stockService, logger)
	r.Route("/api/v1/stocks", func(r chi.Router) {
		r.With(middleware.ContentTypeJSON).Post("/", stockHandler.IncreaseStock)
		r.Get("/{id}", stockHandler.GetStock)
		r.Delete("/{id}", stockHandler.ClearStock)
	})

	return r
}
