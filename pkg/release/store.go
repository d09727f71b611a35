package release

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/rollout/pkg/types"
)

// Store is the ordered revision history of deployable lineages
type Store interface {
	// CurrentRevision returns the revision currently deployed for lineage
	CurrentRevision(ctx context.Context, lineage string) (types.Revision, error)

	// History returns up to maxEntries revisions, newest first. Zero means all.
	History(ctx context.Context, lineage string, maxEntries int) ([]types.Revision, error)

	// Rollback makes targetRevision the deployed configuration of lineage.
	// A refusal is reported as an error wrapping types.ErrRollbackRejected.
	Rollback(ctx context.Context, lineage string, targetRevision int, timeout time.Duration) error
}

// SortNewestFirst orders revisions by descending ID in place
func SortNewestFirst(revs []types.Revision) {
	sort.SliceStable(revs, func(i, j int) bool {
		return revs[i].ID > revs[j].ID
	})
}

// SelectTarget picks the rollback target for a lineage whose current revision
// is current. Revisions at or above current and revisions in rejected are
// skipped, then history is scanned newest first for a revision that was
// deployed at some point.
func SelectTarget(history []types.Revision, current types.Revision, rejected map[int]bool) (types.Revision, error) {
	revs := make([]types.Revision, len(history))
	copy(revs, history)
	SortNewestFirst(revs)

	for _, r := range revs {
		if r.ID >= current.ID || rejected[r.ID] {
			continue
		}
		if r.WasDeployed() {
			return r, nil
		}
	}
	return types.Revision{}, fmt.Errorf("below revision %d: %w", current.ID, types.ErrNoStableRevision)
}

// RejectedRevisions lists the revisions the audit trail rules out as targets
// for a lineage now at current. A revision is rejected when an automated
// rollback moved away from it, when a rollback onto it failed verification,
// or when current is the copy of it a rollback produced.
func RejectedRevisions(events []types.RollbackEvent, current types.Revision) map[int]bool {
	rejected := make(map[int]bool)
	for _, ev := range events {
		// Reapplying a revision does not condemn it
		if ev.TriggeredBy == types.TriggerAutomated && ev.FromRevision != ev.ToRevision {
			rejected[ev.FromRevision] = true
		}
		if ev.Outcome == types.RollbackVerificationFailed {
			rejected[ev.ToRevision] = true
			if ev.ResultRevision != 0 {
				rejected[ev.ResultRevision] = true
			}
		}
		if ev.ResultRevision != 0 && ev.ResultRevision == current.ID && ev.ToRevision != current.ID {
			rejected[ev.ToRevision] = true
		}
	}
	return rejected
}

// Find returns the revision with the given id
func Find(history []types.Revision, id int) (types.Revision, error) {
	for _, r := range history {
		if r.ID == id {
			return r, nil
		}
	}
	return types.Revision{}, fmt.Errorf("revision %d: %w", id, types.ErrRevisionNotFound)
}
