/*
Package metrics provides Prometheus metrics and health endpoints for the
rollout controller.

All metrics are registered with the default Prometheus registry at package
init and exposed by Handler on /metrics. The controller updates evaluation,
retry and audit metrics directly; decision loop and rollback outcome metrics
are derived from the event stream by Collector.

# Architecture

	┌────────────────────── METRICS ───────────────────────────┐
	│                                                            │
	│  controller ──(direct)──► evaluation / retry / audit       │
	│                                                            │
	│  controller ──► events.Broker ──► Collector                │
	│                                      │                     │
	│                                      ├─► transitions        │
	│                                      ├─► loop state gauge   │
	│                                      ├─► terminal states    │
	│                                      └─► rollbacks          │
	│                                                            │
	│  promhttp.Handler() ◄── Prometheus scrape (/metrics)       │
	└────────────────────────────────────────────────────────────┘

# Metrics Catalog

Evaluation:
  - rollout_evaluations_total{lineage,verdict}: counter
  - rollout_evaluation_duration_seconds{lineage}: histogram
  - rollout_unhealthy_instances{lineage}: gauge, last evaluation

Rollback:
  - rollout_rollbacks_total{lineage,trigger,outcome}: counter, final outcomes only
  - rollout_rollback_duration_seconds{lineage}: histogram, initiation to terminal state
  - rollout_retries_total{operation}: counter of retried external calls

Decision loop:
  - rollout_transitions_total{lineage,state}: counter by target state
  - rollout_terminal_states_total{lineage,state,reason}: counter
  - rollout_loop_state{lineage,state}: 1 for the active state, 0 otherwise
  - rollout_cycles_total{lineage}: cycles armed by the reconciler

Audit:
  - rollout_audit_append_errors_total: counter

# Usage

Timing an operation:

	timer := metrics.NewTimer()
	eval, err := agg.Evaluate(ctx, lineage, ids, probe)
	timer.ObserveDurationVec(metrics.EvaluationDuration, lineage)

Feeding the collector:

	broker := events.NewBroker()
	broker.Start()
	collector := metrics.NewCollector(broker)
	collector.Start()
	defer collector.Stop()

# Health Endpoints

HealthHandler, ReadyHandler and LivenessHandler report on the controller's own
dependencies, not on the lineages it watches. Components report their state
with SetComponent. Readiness requires every
critical component (audit, cluster and releases by default) to be healthy.

	metrics.SetComponent("audit", true, "bolt audit log open")
	mux.HandleFunc("/ready", metrics.ReadyHandler())

# Cardinality

Lineage is the only unbounded label. One controller process watches a handful
of lineages, so series counts stay small; instance ids are never used as
labels.
*/
package metrics
