/*
Package health turns per-instance probes into a single verdict for a lineage.

# Checkers

HTTPChecker and TCPChecker implement Checker. Each Check returns a Result that
separates "answered badly" (Healthy false) from "could not be reached"
(Unreachable true), which the aggregator maps onto the unhealthy and
unreachable sample outcomes.

	checker := health.NewHTTPChecker("http://10.0.0.12:8080/health").
		WithStatusRange(200, 299).
		WithTimeout(2 * time.Second)
	result := checker.Check(ctx)

# Aggregation

Aggregator.Evaluate probes every instance concurrently, bounding each probe by
Timeout. A probe that has not returned when its timeout expires yields an
unreachable sample; the probe's late result is dropped. The verdict is healthy
iff every sample is healthy, so a single failing instance holds the lineage
back.

	agg := health.NewAggregator(5 * time.Second)
	eval, err := agg.Evaluate(ctx, "web", []string{"web-0", "web-1"}, probe)
	if errors.Is(err, types.ErrNoInstancesFound) {
		// nothing to probe this cycle
	}

The aggregator performs no I/O itself; the probe function is supplied by the
caller, normally the controller wiring the cluster runtime.

# Status

Status counts consecutive unhealthy verdicts. The decision loop uses it as its
attempt counter and rolls back once Healthy flips to false, which happens when
ConsecutiveFailures reaches the threshold passed to Update.
*/
package health
