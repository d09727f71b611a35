package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the body of the /health and /ready responses
type HealthStatus struct {
	Status     string            `json:"status"` // healthy/unhealthy, or ready/not_ready
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type component struct {
	healthy bool
	message string
}

// HealthChecker tracks the health of the controller's own dependencies
// (audit log, cluster API, release store), not of the monitored lineages
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]component
	critical   []string
	startTime  time.Time
	version    string
}

// DefaultCriticalComponents must be healthy before the controller is ready
var DefaultCriticalComponents = []string{"audit", "cluster", "releases"}

var healthChecker = newHealthChecker()

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]component),
		critical:   DefaultCriticalComponents,
		startTime:  time.Now(),
	}
}

// SetCriticalComponents replaces the components readiness waits for
func SetCriticalComponents(names ...string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.critical = names
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// SetComponent records the latest state of a dependency
func SetComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.components[name] = component{healthy: healthy, message: message}
}

// GetHealth is unhealthy when any recorded component is
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := healthChecker.status("healthy")
	for name, comp := range healthChecker.components {
		if comp.healthy {
			status.Components[name] = "healthy"
			continue
		}
		status.Status = "unhealthy"
		status.Components[name] = "unhealthy: " + comp.message
	}
	return status
}

// GetReadiness reports ready once every critical component recorded healthy
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := healthChecker.status("ready")
	for _, name := range healthChecker.critical {
		comp, ok := healthChecker.components[name]
		switch {
		case !ok:
			status.Status = "not_ready"
			status.Message = "waiting for " + name + " initialization"
			status.Components[name] = "not registered"
		case !comp.healthy:
			status.Status = "not_ready"
			status.Message = "waiting for " + name
			status.Components[name] = "not ready: " + comp.message
		default:
			status.Components[name] = "ready"
		}
	}
	return status
}

// status starts a response; callers hold mu
func (h *HealthChecker) status(initial string) HealthStatus {
	return HealthStatus{
		Status:     initial,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
	}
}

// HealthHandler serves GetHealth, 503 when unhealthy
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		writeJSON(w, health.Status == "healthy", health)
	}
}

// ReadyHandler serves GetReadiness, 503 until ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		writeJSON(w, readiness.Status == "ready", readiness)
	}
}

// LivenessHandler always answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, true, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, ok bool, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(v)
}
