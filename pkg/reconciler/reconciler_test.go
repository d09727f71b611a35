package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner ends each cycle with the next scripted state, then blocks until cancelled
type fakeRunner struct {
	mu     sync.Mutex
	script map[string][]types.State
	runs   map[string]int
}

func newFakeRunner(script map[string][]types.State) *fakeRunner {
	return &fakeRunner{script: script, runs: make(map[string]int)}
}

func (f *fakeRunner) Run(ctx context.Context, p types.Policy, _ func(types.Transition)) types.Result {
	f.mu.Lock()
	n := f.runs[p.Lineage]
	f.runs[p.Lineage]++
	states := f.script[p.Lineage]
	f.mu.Unlock()

	if n < len(states) {
		return types.Result{Lineage: p.Lineage, State: states[n]}
	}
	<-ctx.Done()
	return types.Result{Lineage: p.Lineage, State: types.StateCancelled, Reason: types.ReasonCancelled}
}

func (f *fakeRunner) count(lineage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[lineage]
}

func TestReconcilerRearmsAfterTerminalState(t *testing.T) {
	runner := newFakeRunner(map[string][]types.State{
		"api":    {types.StateStable, types.StateFailed},
		"worker": {types.StateStable},
	})
	policies := []types.Policy{
		{Lineage: "api", Interval: time.Millisecond},
		{Lineage: "worker", Interval: time.Millisecond},
	}

	var mu sync.Mutex
	var results []types.Result
	r := NewReconciler(runner, policies, func(res types.Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	})
	r.Start(context.Background())

	require.Eventually(t, func() bool {
		return runner.count("api") == 3 && runner.count("worker") == 2
	}, time.Second, time.Millisecond)

	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	// 3 scripted results plus one CANCELLED per lineage
	assert.Len(t, results, 5)
	assert.Equal(t, 3, runner.count("api"))
	assert.Equal(t, 2, runner.count("worker"))
}

func TestReconcilerStopsOnCancelledCycle(t *testing.T) {
	runner := newFakeRunner(map[string][]types.State{
		"api": {types.StateCancelled},
	})
	r := NewReconciler(runner, []types.Policy{{Lineage: "api", Interval: time.Millisecond}}, nil)
	r.Start(context.Background())

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after a cancelled cycle")
	}
	assert.Equal(t, 1, runner.count("api"))
}

func TestReconcilerStopsWithParentContext(t *testing.T) {
	runner := newFakeRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReconciler(runner, []types.Policy{{Lineage: "api", Interval: time.Hour}}, nil)
	r.Start(ctx)

	require.Eventually(t, func() bool { return runner.count("api") == 1 }, time.Second, time.Millisecond)
	cancel()
	r.Wait()
}

func TestReconcilerStopBeforeStart(t *testing.T) {
	r := NewReconciler(newFakeRunner(nil), nil, nil)
	r.Stop()
}
