package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ali449/saga-orchestrator/pkg/health"
)

// Standard is the middleware chain every saga participant mounts first.
// Tracing and RequestLogging run before RequestLogger so the request logger
// sees both the span and the correlation id.
func Standard(serviceName string, logger *slog.Logger) chi.Middlewares {
	return chi.Chain(
		CORS(DefaultCORSConfig()),
		Recovery(logger),
		Tracing(serviceName),
		RequestLogging(logger),
		RequestLogger(logger),
		PrometheusMetrics(serviceName),
	)
}

// MountOperational adds the kubernetes health checks and the prometheus
// scrape endpoint.
func MountOperational(r chi.Router, h *health.Handler) {
	r.Get("/health/live", h.LivenessHandler())
	r.Get("/health/ready", h.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}
