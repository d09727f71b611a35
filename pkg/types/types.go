package types

import (
	"fmt"
	"time"
)

// RevisionStatus is the recorded status of a revision within a lineage
type RevisionStatus string

const (
	RevisionDeployed   RevisionStatus = "deployed"
	RevisionSuperseded RevisionStatus = "superseded"
	RevisionFailed     RevisionStatus = "failed"
)

// Revision is one immutable configuration snapshot of a lineage
type Revision struct {
	ID        int            `json:"id"`
	Status    RevisionStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}

// WasDeployed reports whether the revision reached the deployed status at some
// point. Superseded revisions were deployed before a later one replaced them.
func (r Revision) WasDeployed() bool {
	return r.Status == RevisionDeployed || r.Status == RevisionSuperseded
}

// Outcome is the result of probing one instance
type Outcome string

const (
	OutcomeHealthy     Outcome = "healthy"
	OutcomeUnhealthy   Outcome = "unhealthy"
	OutcomeUnreachable Outcome = "unreachable"
)

// HealthSample is one observation of one instance
type HealthSample struct {
	InstanceID string    `json:"instanceId"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    Outcome   `json:"outcome"`
	Message    string    `json:"message,omitempty"`
}

// Verdict is the aggregated health of a lineage
type Verdict string

const (
	VerdictHealthy   Verdict = "healthy"
	VerdictUnhealthy Verdict = "unhealthy"
)

// Evaluation is the output of one health evaluation cycle
type Evaluation struct {
	Lineage   string         `json:"lineage"`
	Verdict   Verdict        `json:"verdict"`
	Samples   []HealthSample `json:"samples"`
	CheckedAt time.Time      `json:"checkedAt"`
}

// Healthy is shorthand for Verdict == VerdictHealthy
func (e Evaluation) Healthy() bool {
	return e.Verdict == VerdictHealthy
}

// Trigger records who initiated a rollback
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAutomated Trigger = "automated"
)

// RollbackOutcome is the final result recorded on a RollbackEvent
type RollbackOutcome string

const (
	RollbackSucceeded          RollbackOutcome = "succeeded"
	RollbackFailed             RollbackOutcome = "failed"
	RollbackVerificationFailed RollbackOutcome = "verification-failed"
	// RollbackInitiated marks the event written when a rollback starts; the
	// terminal event that follows carries one of the outcomes above.
	RollbackInitiated RollbackOutcome = "initiated"
)

// RollbackEvent is an immutable audit record of a rollback action
type RollbackEvent struct {
	ID           string          `json:"id"`
	Lineage      string          `json:"lineage"`
	FromRevision int             `json:"fromRevision"`
	ToRevision   int             `json:"toRevision"`
	TriggeredBy  Trigger         `json:"triggeredBy"`
	Timestamp    time.Time       `json:"timestamp"`
	Outcome      RollbackOutcome `json:"outcome"`
	State        State           `json:"state"`
	Reason       ReasonCode      `json:"reason,omitempty"`
	Message      string          `json:"message,omitempty"`

	// ResultRevision is the revision deployed once the rollback applied. Stores
	// that record a rollback as a new revision report that new id here.
	ResultRevision int `json:"resultRevision,omitempty"`
}

// State is a state of the rollback decision loop
type State string

const (
	StateMonitoring  State = "MONITORING"
	StateRollingBack State = "ROLLING_BACK"
	StateVerifying   State = "VERIFYING"
	StateStable      State = "STABLE"
	StateFailed      State = "FAILED"
	StateCancelled   State = "CANCELLED"
)

// Terminal reports whether no further transitions follow in this cycle
func (s State) Terminal() bool {
	return s == StateStable || s == StateFailed || s == StateCancelled
}

// ReasonCode explains why a loop reached its state
type ReasonCode string

const (
	ReasonNone                ReasonCode = ""
	ReasonHealthy             ReasonCode = "healthy"
	ReasonUnhealthy           ReasonCode = "unhealthy"
	ReasonNoInstances         ReasonCode = "no-instances"
	ReasonNoStableRevision    ReasonCode = "no-stable-revision"
	ReasonRollbackRejected    ReasonCode = "rollback-rejected"
	ReasonVerificationTimeout ReasonCode = "verification-timeout"
	ReasonRetriesExhausted    ReasonCode = "retries-exhausted"
	ReasonRecovered           ReasonCode = "recovered"
	ReasonCancelled           ReasonCode = "cancelled"

	// ReasonConcurrentRollback means another actor rolled the lineage back
	// while this loop waited for the lineage lock
	ReasonConcurrentRollback ReasonCode = "concurrent-rollback"
)

// Transition is one step of the decision loop, emitted on the monitor stream
type Transition struct {
	Lineage    string         `json:"lineage"`
	From       State          `json:"from"`
	To         State          `json:"to"`
	Attempt    int            `json:"attempt"`
	Reason     ReasonCode     `json:"reason,omitempty"`
	Evaluation *Evaluation    `json:"evaluation,omitempty"`
	Event      *RollbackEvent `json:"event,omitempty"`
	Err        error          `json:"-"`
	At         time.Time      `json:"at"`
}

// Result is the single final outcome of one monitor invocation
type Result struct {
	Lineage string          `json:"lineage"`
	State   State           `json:"state"`
	Reason  ReasonCode      `json:"reason,omitempty"`
	Events  []RollbackEvent `json:"events"`
	Err     error           `json:"-"`
}

// InstanceStatus is the orchestrator's view of one running instance
type InstanceStatus struct {
	Phase        string `json:"phase"`
	Ready        bool   `json:"ready"`
	RestartCount int32  `json:"restartCount"`
	Address      string `json:"address,omitempty"`
}

// Policy holds the per-lineage monitoring and rollback parameters
type Policy struct {
	// Lineage names the release and the deployment
	Lineage string `yaml:"lineage" json:"lineage"`

	// Selector finds the lineage's instances; defaults to the Helm instance label
	Selector string `yaml:"selector" json:"selector"`

	// Interval is the time between evaluations while monitoring
	Interval time.Duration `yaml:"interval" json:"interval"`

	// ProbeTimeout bounds each instance probe
	ProbeTimeout time.Duration `yaml:"probeTimeout" json:"probeTimeout"`

	// MaxAttempts consecutive unhealthy evaluations trigger a rollback
	MaxAttempts int `yaml:"maxAttempts" json:"maxAttempts"`

	// Paths are probed on every instance; all must pass
	Paths []string `yaml:"paths" json:"paths"`

	// MaxRestarts marks an instance unhealthy above this restart count. Zero
	// takes the default ceiling; a negative value disables the check.
	MaxRestarts int32 `yaml:"maxRestarts" json:"maxRestarts"`

	// VerifyChecks bounds the post-rollback re-checks
	VerifyChecks int `yaml:"verifyChecks" json:"verifyChecks"`

	// VerifyInterval is the wait before each post-rollback re-check
	VerifyInterval time.Duration `yaml:"verifyInterval" json:"verifyInterval"`

	// RollbackTimeout bounds one rollback call
	RollbackTimeout time.Duration `yaml:"rollbackTimeout" json:"rollbackTimeout"`

	// Window ends monitoring as STABLE once it elapses with the lineage
	// healthy. Zero monitors until cancelled or a rollback cycle ends.
	Window time.Duration `yaml:"window" json:"window"`
}

// DefaultSelector is the Helm-standard instance label selector for lineage
func DefaultSelector(lineage string) string {
	return "app.kubernetes.io/instance=" + lineage
}

// WithDefaults fills zero fields from defaults
func (p Policy) WithDefaults(defaults Policy) Policy {
	if p.Selector == "" {
		p.Selector = defaults.Selector
	}
	if p.Selector == "" && p.Lineage != "" {
		p.Selector = DefaultSelector(p.Lineage)
	}
	if p.Interval <= 0 {
		p.Interval = defaults.Interval
	}
	if p.ProbeTimeout <= 0 {
		p.ProbeTimeout = defaults.ProbeTimeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if len(p.Paths) == 0 {
		p.Paths = defaults.Paths
	}
	if p.MaxRestarts == 0 {
		p.MaxRestarts = defaults.MaxRestarts
	}
	if p.VerifyChecks <= 0 {
		p.VerifyChecks = defaults.VerifyChecks
	}
	if p.VerifyInterval <= 0 {
		p.VerifyInterval = defaults.VerifyInterval
	}
	if p.RollbackTimeout <= 0 {
		p.RollbackTimeout = defaults.RollbackTimeout
	}
	if p.Window <= 0 {
		p.Window = defaults.Window
	}
	return p
}

// Validate reports the first invalid field
func (p Policy) Validate() error {
	switch {
	case p.Lineage == "":
		return fmt.Errorf("lineage is required")
	case p.Interval <= 0:
		return fmt.Errorf("interval must be positive")
	case p.ProbeTimeout <= 0:
		return fmt.Errorf("probeTimeout must be positive")
	case p.MaxAttempts < 1:
		return fmt.Errorf("maxAttempts must be at least 1")
	case p.VerifyChecks < 1:
		return fmt.Errorf("verifyChecks must be at least 1")
	case p.RollbackTimeout <= 0:
		return fmt.Errorf("rollbackTimeout must be positive")
	}
	return nil
}
