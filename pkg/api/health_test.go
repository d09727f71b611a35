package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okCheck(context.Context) error { return nil }

// TestHealthServerRoutes tests that every endpoint is registered
func TestHealthServerRoutes(t *testing.T) {
	hs := NewHealthServer(map[string]ReadinessCheck{"routes-audit": okCheck})

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/health", expectedStatus: http.StatusOK},
		{path: "/ready", expectedStatus: http.StatusOK},
		{path: "/live", expectedStatus: http.StatusOK},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			hs.GetHandler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

// TestReadyHandlerRunsChecks tests that readiness reflects the latest check results
func TestReadyHandlerRunsChecks(t *testing.T) {
	var fail atomic.Bool
	hs := NewHealthServer(map[string]ReadinessCheck{
		"ready-audit": okCheck,
		"ready-cluster": func(context.Context) error {
			if fail.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	serve := func() (int, metrics.HealthStatus) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		hs.GetHandler().ServeHTTP(w, req)

		var status metrics.HealthStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		return w.Code, status
	}

	code, status := serve()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, "ready", status.Components["ready-cluster"])

	fail.Store(true)
	code, status = serve()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", status.Status)
	assert.Contains(t, status.Components["ready-cluster"], "connection refused")
	assert.Equal(t, "ready", status.Components["ready-audit"])

	fail.Store(false)
	code, _ = serve()
	assert.Equal(t, http.StatusOK, code)
}

// TestReadyHandlerCheckTimeout tests that a hanging check is bounded
func TestReadyHandlerCheckTimeout(t *testing.T) {
	hs := NewHealthServer(map[string]ReadinessCheck{
		"timeout-releases": func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	hs.checkTimeout = 0

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// TestMethodValidation tests that health endpoints only accept GET
func TestMethodValidation(t *testing.T) {
	hs := NewHealthServer(map[string]ReadinessCheck{"method-audit": okCheck})

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{name: "GET health", method: http.MethodGet, path: "/health", expectedStatus: http.StatusOK},
		{name: "POST health", method: http.MethodPost, path: "/health", expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT ready", method: http.MethodPut, path: "/ready", expectedStatus: http.StatusMethodNotAllowed},
		{name: "DELETE live", method: http.MethodDelete, path: "/live", expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			hs.GetHandler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

// TestShutdownBeforeStart tests that shutting down an unstarted server is a no-op
func TestShutdownBeforeStart(t *testing.T) {
	hs := NewHealthServer(nil)
	assert.NoError(t, hs.Shutdown(context.Background()))
}

func BenchmarkReadyHandler(b *testing.B) {
	hs := NewHealthServer(map[string]ReadinessCheck{"bench-audit": okCheck})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		hs.GetHandler().ServeHTTP(w, req)
	}
}
