package middleware

import (
	"log/slog"
	"net/http"

	"github.com/ali449/saga-orchestrator/pkg/logger"
)

// Headers a caller may set to tie a request to a saga in the logs.
const (
	HeaderSagaInstanceID = "X-Saga-Instance-ID"
	HeaderAggregateID    = "X-Aggregate-ID"
)

// RequestLogger stores a logger carrying the correlation id, saga ids and
// span ids in the request context for logger.FromContext. Mount it after
// RequestLogging and Tracing. Malformed saga headers are ignored.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.WithSaga(r.Context(),
				sagaHeader(r, HeaderSagaInstanceID),
				sagaHeader(r, HeaderAggregateID),
			)
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sagaHeader(r *http.Request, name string) string {
	if v := r.Header.Get(name); validCorrelationID.MatchString(v) {
		return v
	}
	return ""
}
