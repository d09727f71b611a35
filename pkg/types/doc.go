/*
Package types defines the data model shared by the rollout controller.

# Core Types

Revision is one immutable configuration snapshot of a lineage as recorded by the
release store. Its Status is one of deployed, superseded or failed, and at most one
revision per lineage is deployed at a time. A superseded revision was deployed
earlier and is therefore a valid rollback target; a failed one never is.

HealthSample is a single probe observation of one instance. Samples are ephemeral:
the aggregator folds them into an Evaluation whose Verdict is healthy only when
every sample is healthy.

RollbackEvent is the append-only audit record written whenever the decision loop
starts a rollback or reaches a terminal state after one.

# States

The decision loop moves through these states:

	MONITORING ──(maxAttempts unhealthy)──▶ ROLLING_BACK ──(accepted)──▶ VERIFYING
	    │                                       │                            │
	    └─(healthy)─▶ MONITORING                └─(rejected)─▶ FAILED        ├─(healthy)─▶ STABLE
	                                                                         └─(timeout)─▶ FAILED

CANCELLED is reached from any state when the caller's context ends.

# Errors

Sentinel errors (ErrNoStableRevision, ErrVerificationTimeout, ...) are wrapped with
%w and classified with ReasonFor, which yields the ReasonCode reported alongside
every terminal state.
*/
package types
