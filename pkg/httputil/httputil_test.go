package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/pkg/logger"
	"github.com/ali449/saga-orchestrator/pkg/validator"
)

const sagaID = "7d3c1e52-9a0b-4b8e-8f60-3f1f0c2a9d11"

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (Response, map[string]json.RawMessage) {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp, raw
}

func sagaRequest(correlationID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/sagas/"+sagaID, nil)
	if correlationID == "" {
		return req
	}
	return req.WithContext(logger.WithCorrelationID(context.Background(), correlationID))
}

func TestWriteJSON_SagaEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, Response{Data: map[string]string{"id": sagaID}})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	_, raw := decodeEnvelope(t, rec)
	assert.JSONEq(t, `{"id":"`+sagaID+`"}`, string(raw["data"]))
	assert.NotContains(t, raw, "error")
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "app error keeps its own code",
			err:     apperrors.NotFound("saga instance", sagaID),
			status:  http.StatusNotFound,
			code:    "NOT_FOUND",
			message: "saga instance with id " + sagaID + " not found",
		},
		{
			name:    "wrapped not found",
			err:     fmt.Errorf("load order: %w", apperrors.ErrNotFound),
			status:  http.StatusNotFound,
			code:    "NOT_FOUND",
			message: "resource not found",
		},
		{
			name:    "duplicate stock item",
			err:     apperrors.ErrAlreadyExists,
			status:  http.StatusConflict,
			code:    "ALREADY_EXISTS",
			message: "resource already exists",
		},
		{
			name:    "reservation version conflict",
			err:     fmt.Errorf("reserve stock: %w", apperrors.ErrConflict),
			status:  http.StatusConflict,
			code:    "CONFLICT",
			message: "request conflicts with current state",
		},
		{
			name:    "invalid input echoes message",
			err:     fmt.Errorf("%w: quantity must be positive", apperrors.ErrInvalidInput),
			status:  http.StatusBadRequest,
			code:    "INVALID_INPUT",
			message: "invalid input: quantity must be positive",
		},
		{
			name:    "order submissions throttled",
			err:     apperrors.ErrRateLimited,
			status:  http.StatusTooManyRequests,
			code:    "RATE_LIMITED",
			message: "too many requests",
		},
		{
			name:    "payment gateway breaker open",
			err:     fmt.Errorf("charge: %w", apperrors.ErrServiceUnavail),
			status:  http.StatusServiceUnavailable,
			code:    "SERVICE_UNAVAILABLE",
			message: "service temporarily unavailable",
		},
		{
			name:    "unknown error hides cause",
			err:     errors.New("pq: connection reset"),
			status:  http.StatusInternalServerError,
			code:    "INTERNAL_ERROR",
			message: "an internal error occurred",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, _ := bufferLogger()
			rec := httptest.NewRecorder()

			WriteError(rec, sagaRequest(""), tc.err, l)

			assert.Equal(t, tc.status, rec.Code)
			resp, _ := decodeEnvelope(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Equal(t, tc.message, resp.Error.Message)
		})
	}
}

func TestWriteError_LogsOnlyServerFailures(t *testing.T) {
	l, buf := bufferLogger()

	WriteError(httptest.NewRecorder(), sagaRequest(""), apperrors.ErrNotFound, l)
	assert.Empty(t, buf.String())

	WriteError(httptest.NewRecorder(), sagaRequest(""), errors.New("outbox insert failed"), l)
	assert.Contains(t, buf.String(), "outbox insert failed")
	assert.Contains(t, buf.String(), `"code":"INTERNAL_ERROR"`)

	buf.Reset()
	WriteError(httptest.NewRecorder(), sagaRequest(""), apperrors.ServiceUnavailable("kafka unavailable"), l)
	assert.Contains(t, buf.String(), "request failed")
}

func TestWriteError_PrefersRequestLogger(t *testing.T) {
	fallback, fallbackBuf := bufferLogger()
	scoped, scopedBuf := bufferLogger()
	req := sagaRequest("")
	req = req.WithContext(logger.NewContext(req.Context(), scoped))

	WriteError(httptest.NewRecorder(), req, errors.New("boom"), fallback)

	assert.Contains(t, scopedBuf.String(), "boom")
	assert.Empty(t, fallbackBuf.String())
}

func TestWriteError_RequestID(t *testing.T) {
	l, _ := bufferLogger()

	rec := httptest.NewRecorder()
	WriteError(rec, sagaRequest("order-42-submit"), apperrors.ErrNotFound, l)
	resp, _ := decodeEnvelope(t, rec)
	assert.Equal(t, "order-42-submit", resp.Error.RequestID)

	rec = httptest.NewRecorder()
	WriteError(rec, sagaRequest(""), apperrors.ErrNotFound, l)
	_, raw := decodeEnvelope(t, rec)
	var errObj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["error"], &errObj))
	assert.NotContains(t, errObj, "request_id")
}

type placeOrder struct {
	StockID  string `json:"stock_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

func TestWriteValidationError(t *testing.T) {
	t.Run("field errors", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteValidationError(rec, sagaRequest("corr-v1"), validator.Validate(placeOrder{}))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp, _ := decodeEnvelope(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
		assert.Contains(t, resp.Error.Fields, "stock_id")
		assert.Contains(t, resp.Error.Fields, "quantity")
		assert.Equal(t, "corr-v1", resp.Error.RequestID)
	})

	t.Run("plain error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteValidationError(rec, sagaRequest(""), errors.New("body must be a single JSON object"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp, _ := decodeEnvelope(t, rec)
		assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
		assert.Equal(t, "body must be a single JSON object", resp.Error.Message)
		assert.Empty(t, resp.Error.Fields)
	})
}

func TestParseUUID(t *testing.T) {
	tests := []struct {
		param string
		ok    bool
	}{
		{sagaID, true},
		{"7D3C1E52-9A0B-4B8E-8F60-3F1F0C2A9D11", true},
		{"order-42", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.param, func(t *testing.T) {
			rec := httptest.NewRecorder()
			id, ok := ParseUUID(rec, sagaRequest("corr-p"), tc.param)

			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, sagaID, id.String())
				assert.Zero(t, rec.Body.Len(), "nothing written on success")
				return
			}
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp, _ := decodeEnvelope(t, rec)
			assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
			assert.Equal(t, "invalid UUID: "+tc.param, resp.Error.Message)
			assert.Equal(t, "corr-p", resp.Error.RequestID)
		})
	}
}

func TestNewPaginatedResponse(t *testing.T) {
	tests := []struct {
		name       string
		data       []string
		total      int
		page       int
		perPage    int
		totalPages int
		hasNext    bool
	}{
		{"first of several", []string{"saga-1", "saga-2"}, 25, 1, 10, 3, true},
		{"last partial page", []string{"saga-21"}, 21, 3, 10, 3, false},
		{"exact division", []string{"a", "b", "c"}, 30, 2, 10, 3, true},
		{"empty result", nil, 0, 1, 20, 0, false},
		{"zero per page", nil, 5, 1, 0, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := NewPaginatedResponse(tc.data, tc.total, tc.page, tc.perPage)
			assert.Equal(t, tc.totalPages, resp.TotalPages)
			assert.Equal(t, tc.hasNext, resp.HasNext)
			assert.NotNil(t, resp.Data)
		})
	}
}

func TestNewPaginatedResponse_EncodesEmptyListAsArray(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, NewPaginatedResponse[string](nil, 0, 1, 20))

	assert.JSONEq(t,
		`{"data":[],"total_count":0,"page":1,"per_page":20,"total_pages":0,"has_next":false}`,
		rec.Body.String())
}
