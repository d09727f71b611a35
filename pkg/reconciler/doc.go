/*
Package reconciler keeps a decision loop armed for every watched lineage.

A decision cycle ends in a terminal state. STABLE and FAILED cycles are
followed by a fresh cycle one policy interval later, so a long-running
controller keeps watching a lineage after it recovered or after a rollback
failed. A CANCELLED cycle, or cancellation of the parent context, stops the
lineage for good.

	r := reconciler.NewReconciler(ctrl, policies, nil)
	r.Start(ctx)
	defer r.Stop()

Each lineage runs in its own goroutine; lineages never block each other.
*/
package reconciler
