package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func down(msg string) Checker {
	return func(context.Context) error { return errors.New(msg) }
}

func ready(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLivenessHandler_AlwaysUp(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", down("connection refused"))

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUp, resp.Status)
	assert.Empty(t, resp.Checks, "liveness must not run dependency checks")
	assert.False(t, resp.Timestamp.IsZero())
}

// Participants register postgres and redis as critical, kafka as non-critical:
// an unreachable broker delays saga replies but the HTTP API keeps serving.
func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		postgres   Checker
		redis      Checker
		kafka      Checker
		wantCode   int
		wantStatus Status
	}{
		{"all up", up, up, up, http.StatusOK, StatusUp},
		{"kafka down degrades", up, up, down("dial tcp kafka:9092: i/o timeout"), http.StatusOK, StatusDegraded},
		{"redis down", up, down("redis: connection pool timeout"), up, http.StatusServiceUnavailable, StatusDown},
		{"postgres and kafka down", down("connection refused"), up, down("no brokers"), http.StatusServiceUnavailable, StatusDown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler()
			h.RegisterCritical("postgres", tc.postgres)
			h.RegisterCritical("redis", tc.redis)
			h.RegisterNonCritical("kafka", tc.kafka)

			code, resp := ready(t, h)

			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantStatus, resp.Status)
			require.Len(t, resp.Checks, 3)
			assert.True(t, resp.Checks["postgres"].Critical)
			assert.False(t, resp.Checks["kafka"].Critical)
		})
	}
}

func TestReadinessHandler_ReportsCheckError(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("redis", down("redis: connection pool timeout"))

	_, resp := ready(t, h)

	assert.Equal(t, StatusDown, resp.Checks["redis"].Status)
	assert.Equal(t, "redis: connection pool timeout", resp.Checks["redis"].Error)
}

func TestReadinessHandler_NoChecks(t *testing.T) {
	code, resp := ready(t, NewHandler())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
}

func TestRegister_DefaultsToCriticalAndOverwrites(t *testing.T) {
	h := NewHandler()
	h.Register("postgres", down("connection refused"))
	h.Register("postgres", up)

	code, resp := ready(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Checks["postgres"].Critical)
	assert.Equal(t, StatusUp, resp.Checks["postgres"].Status)
}

func TestReadinessHandler_RunsChecksConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	// Each check blocks until the other has started, which only completes
	// when both run at the same time.
	rendezvous := func(ctx context.Context) error {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("checks ran sequentially")
		}
	}

	h := NewHandler()
	h.RegisterCritical("postgres", rendezvous)
	h.RegisterCritical("redis", rendezvous)

	code, resp := ready(t, h)

	assert.Equal(t, http.StatusOK, code, "checks: %+v", resp.Checks)
}
