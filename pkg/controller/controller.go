package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/rollout/pkg/events"
	"github.com/cuemby/rollout/pkg/health"
	"github.com/cuemby/rollout/pkg/lock"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/cuemby/rollout/pkg/release"
	"github.com/cuemby/rollout/pkg/runtime"
	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultHistoryMax matches Helm's default history limit
const DefaultHistoryMax = 10

// DefaultBackoff bounds retries of transient cluster and release store errors
var DefaultBackoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
	Steps:    5,
	Cap:      30 * time.Second,
}

// DefaultPolicy returns the policy values used for fields a policy leaves empty
func DefaultPolicy() types.Policy {
	return types.Policy{
		Interval:        30 * time.Second,
		ProbeTimeout:    5 * time.Second,
		MaxAttempts:     3,
		Paths:           []string{"/health", "/ready"},
		MaxRestarts:     5,
		VerifyChecks:    3,
		VerifyInterval:  10 * time.Second,
		RollbackTimeout: 5 * time.Minute,
	}
}

// Options wires a Controller to its collaborators
type Options struct {
	Cluster  runtime.Cluster
	Releases release.Store
	Audit    storage.AuditLog

	// Locker serialises rollbacks per lineage; defaults to an in-process locker
	Locker lock.Locker

	// Broker receives evaluations, transitions and rollback events; optional
	Broker *events.Broker

	// Defaults fill the empty fields of every policy
	Defaults types.Policy

	// Backoff bounds retries of transient errors. Steps is the attempt ceiling.
	Backoff wait.Backoff

	// CallTimeout bounds each status query against the cluster or store
	CallTimeout time.Duration

	// HistoryMax bounds the revisions fetched for target selection
	HistoryMax int

	// Parallelism caps concurrent instance probes
	Parallelism int

	// VerifyManual makes RollbackTo wait for the lineage to report healthy
	VerifyManual bool
}

// Controller evaluates lineage health and rolls lineages back
type Controller struct {
	cluster      runtime.Cluster
	releases     release.Store
	audit        storage.AuditLog
	locker       lock.Locker
	broker       *events.Broker
	defaults     types.Policy
	backoff      wait.Backoff
	callTimeout  time.Duration
	historyMax   int
	parallelism  int
	verifyManual bool
	logger       zerolog.Logger
}

// New creates a controller
func New(opts Options) (*Controller, error) {
	if opts.Cluster == nil {
		return nil, fmt.Errorf("cluster runtime is required")
	}
	if opts.Releases == nil {
		return nil, fmt.Errorf("release store is required")
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("audit log is required")
	}

	c := &Controller{
		cluster:      opts.Cluster,
		releases:     opts.Releases,
		audit:        opts.Audit,
		locker:       opts.Locker,
		broker:       opts.Broker,
		defaults:     opts.Defaults.WithDefaults(DefaultPolicy()),
		backoff:      opts.Backoff,
		callTimeout:  opts.CallTimeout,
		historyMax:   opts.HistoryMax,
		parallelism:  opts.Parallelism,
		verifyManual: opts.VerifyManual,
		logger:       log.WithComponent("controller"),
	}
	if c.locker == nil {
		c.locker = lock.NewLocalLocker()
	}
	if c.backoff.Steps == 0 {
		c.backoff = DefaultBackoff
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 30 * time.Second
	}
	if c.historyMax <= 0 {
		c.historyMax = DefaultHistoryMax
	}
	return c, nil
}

// Policy returns p with the controller defaults applied
func (c *Controller) Policy(p types.Policy) types.Policy {
	return p.WithDefaults(c.defaults)
}

// EvaluateOnce probes every instance of the lineage once and returns the
// aggregated verdict. It returns ErrNoInstancesFound when the selector
// matches nothing.
func (c *Controller) EvaluateOnce(ctx context.Context, p types.Policy) (*types.Evaluation, error) {
	p = c.Policy(p)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return c.evaluate(ctx, p)
}

func (c *Controller) evaluate(ctx context.Context, p types.Policy) (*types.Evaluation, error) {
	timer := metrics.NewTimer()

	var ids []string
	err := c.retry(ctx, "list_instances", 0, func(callCtx context.Context) error {
		var err error
		ids, err = c.cluster.ListInstances(callCtx, p.Selector)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of %s: %w", p.Lineage, err)
	}

	agg := health.NewAggregator(p.ProbeTimeout)
	agg.Parallelism = c.parallelism

	eval, err := agg.Evaluate(ctx, p.Lineage, ids, c.probe(p))
	if err != nil {
		return nil, err
	}
	timer.ObserveDurationVec(metrics.EvaluationDuration, p.Lineage)

	unhealthy := 0
	for _, s := range eval.Samples {
		if s.Outcome != types.OutcomeHealthy {
			unhealthy++
		}
	}
	metrics.EvaluationsTotal.WithLabelValues(p.Lineage, string(eval.Verdict)).Inc()
	metrics.UnhealthyInstances.WithLabelValues(p.Lineage).Set(float64(unhealthy))

	c.publish(&events.Event{
		Type:       events.EventEvaluated,
		Lineage:    p.Lineage,
		Message:    fmt.Sprintf("%d/%d instances healthy", len(eval.Samples)-unhealthy, len(eval.Samples)),
		Evaluation: eval,
	})
	return eval, nil
}

// probe checks pod status first and only probes endpoints of instances the
// orchestrator reports as running and ready
func (c *Controller) probe(p types.Policy) health.ProbeFunc {
	return func(ctx context.Context, id string) types.HealthSample {
		st, err := c.cluster.InstanceStatus(ctx, id)
		if err != nil {
			return types.HealthSample{
				InstanceID: id,
				Timestamp:  time.Now(),
				Outcome:    types.OutcomeUnreachable,
				Message:    err.Error(),
			}
		}
		if msg := statusProblem(st, p.MaxRestarts); msg != "" {
			return types.HealthSample{
				InstanceID: id,
				Timestamp:  time.Now(),
				Outcome:    types.OutcomeUnhealthy,
				Message:    msg,
			}
		}
		if len(p.Paths) == 0 {
			return types.HealthSample{InstanceID: id, Timestamp: time.Now(), Outcome: types.OutcomeHealthy}
		}

		results := make([]health.Result, 0, len(p.Paths))
		for _, path := range p.Paths {
			r, err := c.cluster.ProbeEndpoint(ctx, id, path, p.ProbeTimeout)
			if err != nil {
				r = health.Result{Unreachable: true, Message: err.Error(), CheckedAt: time.Now()}
			}
			results = append(results, r)
			if r.Unreachable {
				break
			}
		}
		return health.SampleFromResults(id, results)
	}
}

// statusProblem describes why st is not serving; a non-positive maxRestarts
// places no ceiling on restarts
func statusProblem(st types.InstanceStatus, maxRestarts int32) string {
	switch {
	case st.Phase != runtime.PhaseRunning:
		return fmt.Sprintf("phase %s", st.Phase)
	case !st.Ready:
		return "not ready"
	case maxRestarts > 0 && st.RestartCount > maxRestarts:
		return fmt.Sprintf("%d restarts exceed %d", st.RestartCount, maxRestarts)
	}
	return ""
}

// RollbackTo rolls the lineage back to revisionID on operator request and
// records exactly one RollbackEvent. When the lineage already runs that
// revision nothing is rolled back and the event reports success.
func (c *Controller) RollbackTo(ctx context.Context, p types.Policy, revisionID int) (types.RollbackEvent, error) {
	p = c.Policy(p)
	if err := p.Validate(); err != nil {
		return types.RollbackEvent{}, fmt.Errorf("invalid policy: %w", err)
	}
	logger := log.WithLineage(p.Lineage).With().Int("revision", revisionID).Logger()

	var (
		ev          types.RollbackEvent
		noop        bool
		rollbackErr error
	)
	err := c.withLock(ctx, p.Lineage, func() error {
		current, history, err := c.snapshot(ctx, p.Lineage)
		if err != nil {
			return err
		}

		ev = types.RollbackEvent{
			Lineage:      p.Lineage,
			FromRevision: current.ID,
			ToRevision:   revisionID,
			TriggeredBy:  types.TriggerManual,
		}

		at, err := c.alreadyAt(ctx, p.Lineage, current, revisionID)
		if err != nil {
			return err
		}
		if at {
			noop = true
			return nil
		}

		target, err := release.Find(history, revisionID)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Lineage, err)
		}
		if !target.WasDeployed() {
			logger.Warn().Str("status", string(target.Status)).Msg("Rolling back to a revision that never deployed")
		}

		logger.Info().Int("from", current.ID).Msg("Rolling back")
		rollbackErr = c.retry(ctx, "rollback", p.RollbackTimeout+c.callTimeout, func(callCtx context.Context) error {
			return c.releases.Rollback(callCtx, p.Lineage, target.ID, p.RollbackTimeout)
		})
		return nil
	})
	if err != nil {
		return types.RollbackEvent{}, err
	}

	var result error
	switch {
	case noop:
		ev.Outcome = types.RollbackSucceeded
		ev.State = types.StateStable
		ev.ResultRevision = ev.FromRevision
		ev.Message = "already at requested revision"
	case rollbackErr != nil:
		ev.Outcome = types.RollbackFailed
		ev.State = types.StateFailed
		ev.Reason = types.ReasonFor(rollbackErr)
		ev.Message = rollbackErr.Error()
		result = rollbackErr
	default:
		ev.Outcome = types.RollbackSucceeded
		ev.State = types.StateStable
		ev.ResultRevision = c.resultRevision(ctx, p.Lineage)
		if c.verifyManual {
			if _, err := c.verify(ctx, p, nil); err != nil {
				ev.Outcome = types.RollbackVerificationFailed
				ev.State = types.StateFailed
				ev.Reason = types.ReasonFor(err)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					ev.Reason = types.ReasonCancelled
				}
				ev.Message = err.Error()
				result = err
			}
		}
	}

	ev.Timestamp = time.Now()
	if err := c.appendEvent(ctx, &ev); err != nil {
		result = errors.Join(result, err)
	}
	return ev, result
}

// History returns the lineage's revisions newest first
func (c *Controller) History(ctx context.Context, lineage string) ([]types.Revision, error) {
	var history []types.Revision
	err := c.retry(ctx, "history", 0, func(callCtx context.Context) error {
		var err error
		history, err = c.releases.History(callCtx, lineage, c.historyMax)
		return err
	})
	return history, err
}

func (c *Controller) snapshot(ctx context.Context, lineage string) (types.Revision, []types.Revision, error) {
	var current types.Revision
	err := c.retry(ctx, "current_revision", 0, func(callCtx context.Context) error {
		var err error
		current, err = c.releases.CurrentRevision(callCtx, lineage)
		return err
	})
	if err != nil {
		return types.Revision{}, nil, err
	}
	history, err := c.History(ctx, lineage)
	if err != nil {
		return types.Revision{}, nil, err
	}
	return current, history, nil
}

// alreadyAt reports whether the lineage runs revisionID, either directly or
// as the revision a previous successful rollback to revisionID produced
func (c *Controller) alreadyAt(ctx context.Context, lineage string, current types.Revision, revisionID int) (bool, error) {
	if current.ID == revisionID {
		return true, nil
	}

	var last *types.RollbackEvent
	it := c.audit.Query(storage.Filter{Lineage: lineage})
	for it.Next() {
		ev := it.Event()
		if ev.Outcome == types.RollbackSucceeded && ev.ResultRevision != 0 {
			last = &ev
		}
	}
	if err := it.Err(); err != nil {
		return false, fmt.Errorf("failed to read audit log: %w", err)
	}
	return last != nil && last.ToRevision == revisionID && last.ResultRevision == current.ID, nil
}

// resultRevision reads the revision a rollback produced; zero when unknown
func (c *Controller) resultRevision(ctx context.Context, lineage string) int {
	if ctx.Err() != nil {
		return 0
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	rev, err := c.releases.CurrentRevision(callCtx, lineage)
	if err != nil {
		c.logger.Debug().Err(err).Str("lineage", lineage).Msg("Could not read revision after rollback")
		return 0
	}
	return rev.ID
}

// verify re-evaluates the lineage until it reports healthy or the checks run
// out. observe sees every failed check.
func (c *Controller) verify(ctx context.Context, p types.Policy, observe func(check int, eval *types.Evaluation, err error)) (*types.Evaluation, error) {
	var last *types.Evaluation
	for i := 1; i <= p.VerifyChecks; i++ {
		if err := sleep(ctx, p.VerifyInterval); err != nil {
			return last, err
		}
		eval, err := c.evaluate(ctx, p)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return last, ctxErr
		}
		if err == nil && eval.Healthy() {
			return eval, nil
		}
		if eval != nil {
			last = eval
		}
		if observe != nil {
			observe(i, eval, err)
		}
	}
	return last, fmt.Errorf("%s still unhealthy after %d checks: %w", p.Lineage, p.VerifyChecks, types.ErrVerificationTimeout)
}

// appendEvent records ev in the audit log. The append survives cancellation
// of ctx so a decided outcome is never lost.
func (c *Controller) appendEvent(ctx context.Context, ev *types.RollbackEvent) error {
	if err := c.audit.Append(context.WithoutCancel(ctx), ev); err != nil {
		metrics.AuditAppendErrors.Inc()
		c.logger.Error().Err(err).Str("lineage", ev.Lineage).Msg("Failed to record rollback event")
		return fmt.Errorf("failed to record rollback event: %w", err)
	}

	typ := events.EventRollbackDone
	if ev.Outcome == types.RollbackInitiated {
		typ = events.EventRollbackStarted
	}
	copied := *ev
	c.publish(&events.Event{
		Type:     typ,
		Lineage:  ev.Lineage,
		Message:  fmt.Sprintf("%d -> %d %s", ev.FromRevision, ev.ToRevision, ev.Outcome),
		Rollback: &copied,
	})
	return nil
}

func (c *Controller) publish(ev *events.Event) {
	if c.broker != nil {
		c.broker.Publish(ev)
	}
}
