package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ali449/saga-orchestrator/pkg/health"
	"github.com/ali449/saga-orchestrator/pkg/middleware"
)

// NewRouter serves the payment lookups plus health and metrics.
func NewRouter(payments PaymentReader, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Standard("payment-service", logger)...)
	middleware.MountOperational(r, healthHandler)

	h := NewPaymentHandler(payments, logger)
	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Get("/", h.GetPaymentByOrder)
		r.Get("/{id}", h.GetPayment)
	})

	return r
}
