package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/cuemby/rollout/pkg/metrics"
)

// ReadinessCheck probes one dependency of the controller
type ReadinessCheck func(ctx context.Context) error

// HealthServer provides the metrics and health HTTP endpoints
type HealthServer struct {
	mux          *http.ServeMux
	checks       map[string]ReadinessCheck
	checkTimeout time.Duration
	server       *http.Server
}

// NewHealthServer creates a health server. Each check runs on every /ready
// request and its result is recorded as the component of the same name.
func NewHealthServer(checks map[string]ReadinessCheck) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		mux:          mux,
		checks:       checks,
		checkTimeout: 2 * time.Second,
	}

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
		metrics.SetComponent(name, false, "not checked yet")
	}
	sort.Strings(names)
	metrics.SetCriticalComponents(names...)

	// Register endpoints
	mux.HandleFunc("/health", getOnly(metrics.HealthHandler()))
	mux.HandleFunc("/ready", getOnly(hs.readyHandler))
	mux.HandleFunc("/live", getOnly(metrics.LivenessHandler()))
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves on addr until Shutdown
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:              addr,
		Handler:           hs.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return hs.server.ListenAndServe()
}

// Shutdown stops a started server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// readyHandler refreshes every component and then reports readiness
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hs.checkTimeout)
	defer cancel()

	for name, check := range hs.checks {
		if err := check(ctx); err != nil {
			metrics.SetComponent(name, false, err.Error())
		} else {
			metrics.SetComponent(name, true, "ok")
		}
	}

	metrics.ReadyHandler()(w, r)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
