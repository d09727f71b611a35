/*
Package controller implements the rollback decision loop: it watches the health
of a lineage, rolls it back to the last known-good revision when the lineage
stays unhealthy, and verifies the result.

# Architecture

The controller composes four collaborators, none of which it implements:

	┌──────────────────────── CONTROLLER ─────────────────────────┐
	│                                                              │
	│   runtime.Cluster ──► probe ──► health.Aggregator ──► verdict │
	│                                                              │
	│   verdict ──► decision loop ──► release.Store.Rollback       │
	│                    │                                         │
	│                    ├──► lock.Locker (one rollback/lineage)   │
	│                    ├──► storage.AuditLog (RollbackEvents)    │
	│                    └──► events.Broker (transitions)          │
	└──────────────────────────────────────────────────────────────┘

An instance is probed in two steps. Its orchestrator status must report the
Running phase, a true Ready condition and no more than MaxRestarts restarts;
only then are the policy's endpoint paths checked, and every path must pass.

# Decision loop

Run drives one lineage through these states and returns exactly one final
Result:

	MONITORING ──(MaxAttempts consecutive unhealthy)──► ROLLING_BACK
	MONITORING ──(no earlier deployed revision)──────► FAILED  no-stable-revision
	ROLLING_BACK ──(rollback accepted)───────────────► VERIFYING
	ROLLING_BACK ──(retries exhausted)───────────────► FAILED  rollback-rejected
	VERIFYING ──(healthy re-check)───────────────────► STABLE  recovered
	VERIFYING ──(VerifyChecks unhealthy re-checks)───► FAILED  verification-timeout
	any ──(ctx cancelled)────────────────────────────► CANCELLED

An empty instance set pauses the cycle: the transition reports no-instances
and the attempt counter is left untouched.

The revision current when monitoring starts is the one under watch. Before
rolling back, the loop takes the lineage lock and re-reads the current
revision; if it moved, another actor already rolled back and the loop goes
straight to VERIFYING without calling the release store.

Every automated cycle that reaches the release store appends two
RollbackEvents: one when the rollback is initiated and one for the terminal
outcome.

# Usage

	c, err := controller.New(controller.Options{
		Cluster:  cluster,
		Releases: releases,
		Audit:    audit,
	})

	transitions, results := c.Monitor(ctx, types.Policy{
		Lineage:     "web",
		Interval:    30 * time.Second,
		MaxAttempts: 3,
	})
	for t := range transitions {
		fmt.Printf("%s -> %s (%s)\n", t.From, t.To, t.Reason)
	}
	res := <-results

RollbackTo is the manual counterpart. It always records exactly one event;
asking for the revision the lineage already runs is a successful no-op.

# Retries

Calls to the cluster and the release store are retried on transient errors
with the exponential wait.Backoff in Options. Steps is the attempt ceiling.
Context cancellation and the decision errors (no instances, no stable
revision, unknown revision) are never retried.
*/
package controller
