package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/rollout/pkg/events"
	"github.com/cuemby/rollout/pkg/health"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/cuemby/rollout/pkg/release"
	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/rs/zerolog"
)

// Monitor runs the decision loop for p.Lineage in its own goroutine. Every
// transition is sent on the first channel, which is closed after the
// terminal one; the single final Result is then delivered on the second.
// A consumer that stops reading must cancel ctx.
func (c *Controller) Monitor(ctx context.Context, p types.Policy) (<-chan types.Transition, <-chan types.Result) {
	transitions := make(chan types.Transition, 16)
	results := make(chan types.Result, 1)

	go func() {
		defer close(results)
		defer close(transitions)

		res := c.Run(ctx, p, func(t types.Transition) {
			// Prefer delivery while the buffer has room; a cancelled ctx only
			// releases a send to a consumer that stopped reading
			select {
			case transitions <- t:
				return
			default:
			}
			select {
			case transitions <- t:
			case <-ctx.Done():
			}
		})
		results <- res
	}()

	return transitions, results
}

// Run drives the decision loop for p.Lineage until it reaches exactly one
// final state and returns it. observe, when not nil, receives every
// transition in order on the calling goroutine.
func (c *Controller) Run(ctx context.Context, p types.Policy, observe func(types.Transition)) types.Result {
	return c.run(ctx, p, observe, false)
}

// RunChanged is Run for a lineage whose workload was changed outside the
// release store, such as an image update. The revision current when the loop
// arms still describes the last known-good configuration, so a rollback
// reapplies it rather than selecting an older revision.
func (c *Controller) RunChanged(ctx context.Context, p types.Policy, observe func(types.Transition)) types.Result {
	return c.run(ctx, p, observe, true)
}

func (c *Controller) run(ctx context.Context, p types.Policy, observe func(types.Transition), reapply bool) types.Result {
	p = c.Policy(p)
	r := &loop{
		c:       c,
		p:       p,
		reapply: reapply,
		observe: observe,
		state:   types.StateMonitoring,
		status:  health.NewStatus(),
		logger:  log.WithLineage(p.Lineage),
	}
	if err := p.Validate(); err != nil {
		return r.finish(types.StateFailed, types.ReasonNone, step{err: fmt.Errorf("invalid policy: %w", err)})
	}
	return r.monitor(ctx)
}

// step carries what a transition reports besides its target state
type step struct {
	eval  *types.Evaluation
	event *types.RollbackEvent
	err   error
}

type loop struct {
	c       *Controller
	p       types.Policy
	reapply bool
	observe func(types.Transition)
	logger  zerolog.Logger

	state     types.State
	attempt   int
	status    *health.Status
	events    []types.RollbackEvent
	auditErrs []error
}

func (r *loop) monitor(ctx context.Context) types.Result {
	c, p := r.c, r.p

	// The revision under watch; a different current revision at rollback
	// time means someone else already acted
	var armed types.Revision
	err := c.retry(ctx, "current_revision", 0, func(callCtx context.Context) error {
		var err error
		armed, err = c.releases.CurrentRevision(callCtx, p.Lineage)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		return r.finish(types.StateFailed, types.ReasonFor(err), step{err: err})
	}

	r.logger.Info().
		Int("revision", armed.ID).
		Dur("interval", p.Interval).
		Int("max_attempts", p.MaxAttempts).
		Msg("Monitoring lineage")

	started := time.Now()
	for {
		eval, err := c.evaluate(ctx, p)
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}

		switch {
		case errors.Is(err, types.ErrNoInstancesFound):
			// Paused cycle: surfaced, not counted against the lineage
			r.transition(types.StateMonitoring, types.ReasonNoInstances, step{err: err})
		case err != nil:
			return r.finish(types.StateFailed, types.ReasonFor(err), step{err: err})
		default:
			r.status.Update(eval.Healthy(), p.MaxAttempts)
			r.attempt = r.status.ConsecutiveFailures

			switch {
			case eval.Healthy() && p.Window > 0 && time.Since(started) >= p.Window:
				return r.finish(types.StateStable, types.ReasonHealthy, step{eval: eval})
			case eval.Healthy():
				r.transition(types.StateMonitoring, types.ReasonHealthy, step{eval: eval})
			case r.status.Healthy:
				r.transition(types.StateMonitoring, types.ReasonUnhealthy, step{eval: eval})
			default:
				return r.rollback(ctx, armed, eval)
			}
		}

		if err := sleep(ctx, p.Interval); err != nil {
			return r.cancelled(ctx)
		}
	}
}

func (r *loop) rollback(ctx context.Context, armed types.Revision, eval *types.Evaluation) types.Result {
	c, p := r.c, r.p

	target, err := r.target(ctx, armed)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		return r.finish(types.StateFailed, types.ReasonFor(err), step{eval: eval, err: err})
	}

	r.transition(types.StateRollingBack, types.ReasonUnhealthy, step{eval: eval})
	r.logger.Warn().
		Int("from", armed.ID).
		Int("to", target.ID).
		Int("attempts", r.attempt).
		Msg("Rolling back unhealthy lineage")

	var (
		started   time.Time
		initiated bool
		skipped   bool
	)
	err = c.withLock(ctx, p.Lineage, func() error {
		var current types.Revision
		err := c.retry(ctx, "current_revision", 0, func(callCtx context.Context) error {
			var err error
			current, err = c.releases.CurrentRevision(callCtx, p.Lineage)
			return err
		})
		if err != nil {
			return err
		}
		if current.ID != armed.ID {
			skipped = true
			return nil
		}

		started = time.Now()
		r.record(ctx, armed.ID, target.ID, types.RollbackInitiated, types.StateRollingBack, types.ReasonUnhealthy, "")
		initiated = true

		return c.retry(ctx, "rollback", p.RollbackTimeout+c.callTimeout, func(callCtx context.Context) error {
			return c.releases.Rollback(callCtx, p.Lineage, target.ID, p.RollbackTimeout)
		})
	})
	if ctx.Err() != nil {
		return r.cancelled(ctx)
	}
	if err != nil {
		reason := types.ReasonFor(err)
		var ev *types.RollbackEvent
		if initiated {
			ev = r.record(ctx, armed.ID, target.ID, types.RollbackFailed, types.StateFailed, reason, err.Error())
			metrics.RollbackDuration.WithLabelValues(p.Lineage).Observe(time.Since(started).Seconds())
		}
		return r.finish(types.StateFailed, reason, step{eval: eval, event: ev, err: err})
	}

	verifyReason := types.ReasonNone
	if skipped {
		verifyReason = types.ReasonConcurrentRollback
		r.logger.Info().Msg("Lineage already rolled back by another actor, verifying")
	}
	r.attempt = 0
	r.transition(types.StateVerifying, verifyReason, step{})

	last, err := c.verify(ctx, p, func(check int, eval *types.Evaluation, err error) {
		r.attempt = check
		reason := types.ReasonUnhealthy
		if err != nil {
			reason = types.ReasonFor(err)
		}
		r.transition(types.StateVerifying, reason, step{eval: eval, err: err})
	})
	if ctx.Err() != nil {
		return r.cancelled(ctx)
	}

	if err != nil {
		var ev *types.RollbackEvent
		if initiated {
			ev = r.recordResult(ctx, armed.ID, target.ID, types.RollbackVerificationFailed, types.StateFailed, types.ReasonVerificationTimeout, err.Error())
			metrics.RollbackDuration.WithLabelValues(p.Lineage).Observe(time.Since(started).Seconds())
		}
		return r.finish(types.StateFailed, types.ReasonVerificationTimeout, step{eval: last, event: ev, err: err})
	}

	var ev *types.RollbackEvent
	if initiated {
		ev = r.recordResult(ctx, armed.ID, target.ID, types.RollbackSucceeded, types.StateStable, types.ReasonRecovered, "")
		metrics.RollbackDuration.WithLabelValues(p.Lineage).Observe(time.Since(started).Seconds())
	}
	return r.finish(types.StateStable, types.ReasonRecovered, step{eval: last, event: ev})
}

// target is the revision to roll back to from armed. A loop watching an
// out-of-band change reapplies armed itself.
func (r *loop) target(ctx context.Context, armed types.Revision) (types.Revision, error) {
	c, p := r.c, r.p
	if r.reapply {
		return armed, nil
	}

	history, err := c.History(ctx, p.Lineage)
	if err != nil {
		return types.Revision{}, err
	}
	trail, err := storage.Collect(c.audit.Query(storage.Filter{Lineage: p.Lineage}))
	if err != nil {
		return types.Revision{}, fmt.Errorf("failed to read audit log: %w", err)
	}

	target, err := release.SelectTarget(history, armed, release.RejectedRevisions(trail, armed))
	if err != nil {
		return types.Revision{}, fmt.Errorf("%s at revision %d: %w", p.Lineage, armed.ID, err)
	}
	return target, nil
}

// record appends one automated RollbackEvent and keeps it for the result
func (r *loop) record(ctx context.Context, from, to int, outcome types.RollbackOutcome, state types.State, reason types.ReasonCode, msg string) *types.RollbackEvent {
	return r.append(ctx, types.RollbackEvent{
		Lineage:      r.p.Lineage,
		FromRevision: from,
		ToRevision:   to,
		TriggeredBy:  types.TriggerAutomated,
		Outcome:      outcome,
		State:        state,
		Reason:       reason,
		Message:      msg,
	})
}

// recordResult is record for events written after the rollback applied
func (r *loop) recordResult(ctx context.Context, from, to int, outcome types.RollbackOutcome, state types.State, reason types.ReasonCode, msg string) *types.RollbackEvent {
	return r.append(ctx, types.RollbackEvent{
		Lineage:        r.p.Lineage,
		FromRevision:   from,
		ToRevision:     to,
		TriggeredBy:    types.TriggerAutomated,
		Outcome:        outcome,
		State:          state,
		Reason:         reason,
		Message:        msg,
		ResultRevision: r.c.resultRevision(ctx, r.p.Lineage),
	})
}

func (r *loop) append(ctx context.Context, ev types.RollbackEvent) *types.RollbackEvent {
	ev.Timestamp = time.Now()
	if err := r.c.appendEvent(ctx, &ev); err != nil {
		r.auditErrs = append(r.auditErrs, err)
	}
	r.events = append(r.events, ev)
	return &ev
}

func (r *loop) transition(to types.State, reason types.ReasonCode, s step) {
	t := types.Transition{
		Lineage:    r.p.Lineage,
		From:       r.state,
		To:         to,
		Attempt:    r.attempt,
		Reason:     reason,
		Evaluation: s.eval,
		Event:      s.event,
		Err:        s.err,
		At:         time.Now(),
	}
	r.state = to

	logEvent := r.logger.Debug()
	if t.From != t.To || to.Terminal() {
		logEvent = r.logger.Info()
	}
	logEvent.
		Str("from", string(t.From)).
		Str("state", string(to)).
		Str("reason", string(reason)).
		Int("attempt", t.Attempt).
		AnErr("cause", s.err).
		Msg("Transition")

	r.c.publish(&events.Event{
		Type:       events.EventTransition,
		Lineage:    r.p.Lineage,
		Message:    fmt.Sprintf("%s -> %s", t.From, t.To),
		Transition: &t,
	})
	if r.observe != nil {
		r.observe(t)
	}
}

func (r *loop) finish(state types.State, reason types.ReasonCode, s step) types.Result {
	r.transition(state, reason, s)

	errs := append([]error{s.err}, r.auditErrs...)
	return types.Result{
		Lineage: r.p.Lineage,
		State:   state,
		Reason:  reason,
		Events:  r.events,
		Err:     errors.Join(errs...),
	}
}

// cancelled ends the loop without further external calls
func (r *loop) cancelled(ctx context.Context) types.Result {
	return r.finish(types.StateCancelled, types.ReasonCancelled, step{err: ctx.Err()})
}
