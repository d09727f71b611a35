package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPChecker_StatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		healthy bool
	}{
		{name: "ok", status: http.StatusOK, healthy: true},
		{name: "no content", status: http.StatusNoContent, healthy: true},
		{name: "redirect is not followed", status: http.StatusFound, healthy: true},
		{name: "service unavailable", status: http.StatusServiceUnavailable, healthy: false},
		{name: "internal error", status: http.StatusInternalServerError, healthy: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusFound {
					w.Header().Set("Location", "/login")
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			result := NewHTTPChecker(server.URL + "/health").Check(context.Background())

			assert.Equal(t, tt.healthy, result.Healthy, result.Message)
			assert.False(t, result.Unreachable)
			assert.Greater(t, result.Duration, time.Duration(0))
		})
	}
}

func TestHTTPChecker_CustomStatusRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithStatusRange(200, 299).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "expected 200-299")
}

func TestHTTPChecker_CustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Rollout-Probe") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithHeader("X-Rollout-Probe", "1").Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
}

func TestHTTPChecker_TimeoutIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithTimeout(50 * time.Millisecond).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.True(t, result.Unreachable)
}

func TestHTTPChecker_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewHTTPChecker(server.URL).Check(ctx)
	assert.False(t, result.Healthy)
	assert.True(t, result.Unreachable)
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	result := NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, CheckTypeTCP, NewTCPChecker(addr).Type())

	require.NoError(t, ln.Close())

	result = NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.True(t, result.Unreachable)
}
