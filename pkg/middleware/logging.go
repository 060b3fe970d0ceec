package middleware

import (
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/ali449/saga-orchestrator/pkg/logger"
)

// HeaderCorrelationID carries the id that ties an HTTP call to the saga
// events it causes. Participants copy it onto every event they publish.
const HeaderCorrelationID = "X-Correlation-ID"

// validCorrelationID bounds what a caller may inject into logs and events.
var validCorrelationID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// correlationID returns the caller's id when well formed, otherwise a fresh one.
func correlationID(r *http.Request) string {
	if id := r.Header.Get(HeaderCorrelationID); validCorrelationID.MatchString(id) {
		return id
	}
	return uuid.NewString()
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogging assigns the correlation id, echoes it on the response and
// logs one line per request. Scrape and health paths are not logged.
func RequestLogging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := correlationID(r)

			ctx := logger.WithCorrelationID(r.Context(), id)
			r = r.WithContext(ctx)
			w.Header().Set(HeaderCorrelationID, id)

			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			if scrapePath(r.URL.Path) {
				return
			}
			l.Log(ctx, levelFor(wrapped.status), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", wrapped.bytes),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("correlation_id", id),
			)
		})
	}
}
