package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/cuemby/rollout/pkg/types"
)

// Runner runs one decision cycle for a lineage
type Runner interface {
	Run(ctx context.Context, p types.Policy, observe func(types.Transition)) types.Result
}

// Reconciler keeps one decision loop armed per lineage. When a cycle reaches
// a terminal state other than CANCELLED, a new cycle starts after one interval.
type Reconciler struct {
	runner   Runner
	policies []types.Policy
	observe  func(types.Result)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciler creates a reconciler for policies. observe, if set, is called
// with the result of every finished cycle.
func NewReconciler(runner Runner, policies []types.Policy, observe func(types.Result)) *Reconciler {
	return &Reconciler{
		runner:   runner,
		policies: policies,
		observe:  observe,
	}
}

// Start arms a loop for every lineage. Loops stop when ctx is done or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, r.cancel = context.WithCancel(ctx)
	for _, p := range r.policies {
		r.wg.Add(1)
		go func(p types.Policy) {
			defer r.wg.Done()
			r.run(ctx, p)
		}(p)
	}
}

// Stop cancels every loop and waits for them to exit
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Wait blocks until every loop has exited
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// run re-arms the decision loop of one lineage until ctx is done
func (r *Reconciler) run(ctx context.Context, p types.Policy) {
	logger := log.WithLineage(p.Lineage)

	for {
		metrics.CyclesTotal.WithLabelValues(p.Lineage).Inc()
		res := r.runner.Run(ctx, p, nil)
		if r.observe != nil {
			r.observe(res)
		}
		if res.State == types.StateCancelled || ctx.Err() != nil {
			logger.Debug().Msg("Reconciler stopped")
			return
		}

		logger.Info().
			Str("state", string(res.State)).
			Str("reason", string(res.Reason)).
			AnErr("cause", res.Err).
			Dur("rearm_in", p.Interval).
			Msg("Decision cycle ended, re-arming")

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}
