package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/pkg/logger"
	"github.com/ali449/saga-orchestrator/pkg/validator"
)

// Response is the JSON envelope shared by the order, inventory, payment and
// orchestrator HTTP surfaces. Exactly one of Data or Error is set.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error half of Response. RequestID echoes the
// correlation id so a failed call can be matched to its saga logs.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent.
	_ = json.NewEncoder(w).Encode(v)
}

// Client-facing messages for sentinel errors. An empty entry echoes the
// error text.
var sentinelMessages = map[string]string{
	"NOT_FOUND":           "resource not found",
	"ALREADY_EXISTS":      "resource already exists",
	"CONFLICT":            "request conflicts with current state",
	"INVALID_INPUT":       "",
	"RATE_LIMITED":        "too many requests",
	"SERVICE_UNAVAILABLE": "service temporarily unavailable",
}

func describe(err error) (status int, code, message string) {
	status, code = apperrors.Classify(err)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return status, code, appErr.Message
	}
	msg, ok := sentinelMessages[code]
	switch {
	case !ok:
		return status, code, "an internal error occurred"
	case msg == "":
		return status, code, err.Error()
	}
	return status, code, msg
}

// WriteError maps err onto the envelope and status code. Server-side failures
// are logged through the request-scoped logger when one is present, otherwise
// through fallback. The cause of a 5xx is never echoed to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	status, code, message := describe(err)

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("code", code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	writeErrorBody(w, r, status, &ErrorResponse{Code: code, Message: message})
}

// WriteValidationError writes a 400. A *validator.ValidationError contributes
// per-field messages keyed by JSON field name.
func WriteValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		writeErrorBody(w, r, http.StatusBadRequest, &ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  valErr.Fields(),
		})
		return
	}
	writeErrorBody(w, r, http.StatusBadRequest, &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()})
}

// ParseUUID parses a path parameter. On failure it writes a 400 with code
// INVALID_PARAMETER and returns false; the caller should return immediately.
func ParseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		writeErrorBody(w, r, http.StatusBadRequest, &ErrorResponse{
			Code:    "INVALID_PARAMETER",
			Message: "invalid UUID: " + param,
		})
		return uuid.Nil, false
	}
	return id, true
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, body *ErrorResponse) {
	body.RequestID = logger.CorrelationIDFromContext(r.Context())
	WriteJSON(w, status, Response{Error: body})
}

// PaginatedResponse is the envelope for list endpoints such as GET /orders
// and GET /sagas.
type PaginatedResponse[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// NewPaginatedResponse derives TotalPages and HasNext. A nil page of data
// encodes as [] and a non-positive perPage yields zero pages.
func NewPaginatedResponse[T any](data []T, totalCount, page, perPage int) PaginatedResponse[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := 0
	if perPage > 0 {
		totalPages = (totalCount + perPage - 1) / perPage
	}
	return PaginatedResponse[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}
