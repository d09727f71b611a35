package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/rollout/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ProbeFunc probes one instance. Implementations should honour ctx, but the
// aggregator does not rely on it: a probe still running when the timeout
// expires is recorded as unreachable and its late result is discarded.
type ProbeFunc func(ctx context.Context, instanceID string) types.HealthSample

// Aggregator folds per-instance probe results into one verdict
type Aggregator struct {
	// Timeout bounds each probe
	Timeout time.Duration

	// Parallelism caps concurrent probes; zero or negative means unbounded
	Parallelism int

	now func() time.Time
}

// NewAggregator creates an aggregator with the given per-probe timeout
func NewAggregator(timeout time.Duration) *Aggregator {
	return &Aggregator{
		Timeout: timeout,
		now:     time.Now,
	}
}

// Aggregate returns healthy iff every sample is healthy. An empty sample set
// is unhealthy: there is nothing to vouch for the lineage.
func Aggregate(samples []types.HealthSample) types.Verdict {
	if len(samples) == 0 {
		return types.VerdictUnhealthy
	}
	for _, s := range samples {
		if s.Outcome != types.OutcomeHealthy {
			return types.VerdictUnhealthy
		}
	}
	return types.VerdictHealthy
}

// Evaluate probes every instance and aggregates the samples. Samples are
// returned in the order of instanceIDs.
func (a *Aggregator) Evaluate(ctx context.Context, lineage string, instanceIDs []string, probe ProbeFunc) (*types.Evaluation, error) {
	if len(instanceIDs) == 0 {
		return nil, fmt.Errorf("%s: %w", lineage, types.ErrNoInstancesFound)
	}

	samples := make([]types.HealthSample, len(instanceIDs))

	g, gctx := errgroup.WithContext(ctx)
	if a.Parallelism > 0 {
		g.SetLimit(a.Parallelism)
	}
	for i, id := range instanceIDs {
		i, id := i, id
		g.Go(func() error {
			samples[i] = a.probeOne(gctx, id, probe)
			return nil
		})
	}
	_ = g.Wait()

	// A cancelled caller gets no verdict; the samples would all read unreachable
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &types.Evaluation{
		Lineage:   lineage,
		Verdict:   Aggregate(samples),
		Samples:   samples,
		CheckedAt: a.clock(),
	}, nil
}

func (a *Aggregator) probeOne(ctx context.Context, id string, probe ProbeFunc) types.HealthSample {
	pctx := ctx
	cancel := context.CancelFunc(func() {})
	if a.Timeout > 0 {
		pctx, cancel = context.WithTimeout(ctx, a.Timeout)
	}
	defer cancel()

	done := make(chan types.HealthSample, 1)
	go func() {
		done <- probe(pctx, id)
	}()

	select {
	case s := <-done:
		if s.InstanceID == "" {
			s.InstanceID = id
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = a.clock()
		}
		return s
	case <-pctx.Done():
		return types.HealthSample{
			InstanceID: id,
			Timestamp:  a.clock(),
			Outcome:    types.OutcomeUnreachable,
			Message:    types.ErrProbeTimeout.Error(),
		}
	}
}

func (a *Aggregator) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}

// SampleFromResults folds the checks of every probed path of one instance
// into a single sample. Any unreachable path makes the instance unreachable;
// otherwise any failing path makes it unhealthy.
func SampleFromResults(instanceID string, results []Result) types.HealthSample {
	sample := types.HealthSample{
		InstanceID: instanceID,
		Timestamp:  time.Now(),
		Outcome:    types.OutcomeHealthy,
	}
	if len(results) == 0 {
		sample.Outcome = types.OutcomeUnhealthy
		sample.Message = "no checks ran"
		return sample
	}
	for _, r := range results {
		if !r.CheckedAt.IsZero() {
			sample.Timestamp = r.CheckedAt
		}
		switch {
		case r.Unreachable:
			sample.Outcome = types.OutcomeUnreachable
			sample.Message = r.Message
			return sample
		case !r.Healthy && sample.Outcome == types.OutcomeHealthy:
			sample.Outcome = types.OutcomeUnhealthy
			sample.Message = r.Message
		}
	}
	return sample
}
