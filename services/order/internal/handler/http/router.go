package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ali449/saga-orchestrator/pkg/health"
	"github.com/ali449/saga-orchestrator/pkg/middleware"
	"github.com/ali449/saga-orchestrator/services/order/internal/service"
)

// requestTimeout bounds every order handler.
const requestTimeout = 30 * time.Second

// RouterSettings holds the tunables of the order router.
type RouterSettings struct {
	PprofCIDRs     []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter serves order submission and lookup. Submissions are rate limited
// per client; ctx bounds the limiter's background eviction.
func NewRouter(
	ctx context.Context,
	orderService *service.OrderService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	settings RouterSettings,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Standard("order-service", logger)...)
	r.Use(chimw.Compress(5), chimw.Timeout(requestTimeout))
	middleware.MountOperational(r, healthHandler)
	middleware.RegisterPprof(r, settings.PprofCIDRs, logger)

	orderHandler := NewOrderHandler(orderService, logger)
	submitLimit := middleware.RateLimit(ctx, settings.RateLimitRPS, settings.RateLimitBurst, logger)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.With(submitLimit, middleware.ContentTypeJSON).Post("/", orderHandler.CreateOrder)
		r.Get("/", orderHandler.ListOrders)
		r.Get("/{id}", orderHandler.GetOrder)
		r.Get("/{id}/status", orderHandler.GetOrderStatus)
	})

	return r
}
