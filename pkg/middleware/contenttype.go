package middleware

import (
	"mime"
	"net/http"

	"github.com/ali449/saga-orchestrator/pkg/httputil"
	"github.com/ali449/saga-orchestrator/pkg/logger"
)

// ContentTypeJSON rejects request bodies that are not declared as
// application/json with 415. A missing Content-Type is let through so
// clients such as curl without -H still reach the decoder.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" {
			next.ServeHTTP(w, r)
			return
		}

		if mediaType, _, err := mime.ParseMediaType(ct); err != nil || mediaType != "application/json" {
			httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
				Error: &httputil.ErrorResponse{
					Code:      "UNSUPPORTED_MEDIA_TYPE",
					Message:   "Content-Type must be application/json",
					RequestID: logger.CorrelationIDFromContext(r.Context()),
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
