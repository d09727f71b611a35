package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Evaluation metrics
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_evaluations_total",
			Help: "Total number of health evaluations by lineage and verdict",
		},
		[]string{"lineage", "verdict"},
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollout_evaluation_duration_seconds",
			Help:    "Time taken to probe and aggregate one lineage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lineage"},
	)

	UnhealthyInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollout_unhealthy_instances",
			Help: "Instances not reporting healthy in the last evaluation",
		},
		[]string{"lineage"},
	)

	// Rollback metrics
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_rollbacks_total",
			Help: "Total number of rollbacks by trigger and outcome",
		},
		[]string{"lineage", "trigger", "outcome"},
	)

	RollbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollout_rollback_duration_seconds",
			Help:    "Time from rollback initiation to a terminal state in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"lineage"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_retries_total",
			Help: "Total number of retried external calls by operation",
		},
		[]string{"operation"},
	)

	// Decision loop metrics
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_transitions_total",
			Help: "Total number of decision loop transitions by target state",
		},
		[]string{"lineage", "state"},
	)

	TerminalStatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_terminal_states_total",
			Help: "Total number of decision cycles ended, by state and reason",
		},
		[]string{"lineage", "state", "reason"},
	)

	LoopState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollout_loop_state",
			Help: "Current decision loop state per lineage (1 for the active state)",
		},
		[]string{"lineage", "state"},
	)

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_cycles_total",
			Help: "Total number of decision cycles armed by the reconciler",
		},
		[]string{"lineage"},
	)

	AuditAppendErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollout_audit_append_errors_total",
			Help: "Total number of failed audit log appends",
		},
	)
)

func init() {
	prometheus.MustRegister(EvaluationsTotal)
	prometheus.MustRegister(EvaluationDuration)
	prometheus.MustRegister(UnhealthyInstances)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(RollbackDuration)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(TerminalStatesTotal)
	prometheus.MustRegister(LoopState)
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(AuditAppendErrors)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds on a labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labelValues ...string) {
	h.WithLabelValues(labelValues...).Observe(t.Duration().Seconds())
}
