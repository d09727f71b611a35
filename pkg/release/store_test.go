package release

import (
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rev(id int, status types.RevisionStatus) types.Revision {
	return types.Revision{ID: id, Status: status, CreatedAt: time.Unix(int64(id)*60, 0)}
}

func TestSelectTarget(t *testing.T) {
	tests := []struct {
		name     string
		history  []types.Revision
		current  types.Revision
		rejected map[int]bool
		expected int
		noTarget bool
	}{
		{
			name: "skips failed revision",
			history: []types.Revision{
				rev(5, types.RevisionDeployed),
				rev(4, types.RevisionSuperseded),
				rev(3, types.RevisionFailed),
				rev(2, types.RevisionSuperseded),
			},
			current:  rev(5, types.RevisionDeployed),
			expected: 4,
		},
		{
			name: "failed directly below current",
			history: []types.Revision{
				rev(5, types.RevisionDeployed),
				rev(4, types.RevisionFailed),
				rev(3, types.RevisionFailed),
				rev(2, types.RevisionSuperseded),
			},
			current:  rev(5, types.RevisionDeployed),
			expected: 2,
		},
		{
			name: "unordered history",
			history: []types.Revision{
				rev(2, types.RevisionSuperseded),
				rev(5, types.RevisionDeployed),
				rev(3, types.RevisionSuperseded),
			},
			current:  rev(5, types.RevisionDeployed),
			expected: 3,
		},
		{
			name: "newer failed upgrade above current is ignored",
			history: []types.Revision{
				rev(6, types.RevisionFailed),
				rev(5, types.RevisionDeployed),
				rev(4, types.RevisionSuperseded),
			},
			current:  rev(5, types.RevisionDeployed),
			expected: 4,
		},
		{
			name: "all prior failed",
			history: []types.Revision{
				rev(3, types.RevisionDeployed),
				rev(2, types.RevisionFailed),
				rev(1, types.RevisionFailed),
			},
			current:  rev(3, types.RevisionDeployed),
			noTarget: true,
		},
		{
			name:     "only current",
			history:  []types.Revision{rev(1, types.RevisionDeployed)},
			current:  rev(1, types.RevisionDeployed),
			noTarget: true,
		},
		{
			name: "rejected revision is skipped",
			history: []types.Revision{
				rev(4, types.RevisionDeployed),
				rev(3, types.RevisionSuperseded),
				rev(2, types.RevisionSuperseded),
			},
			current:  rev(4, types.RevisionDeployed),
			rejected: map[int]bool{3: true},
			expected: 2,
		},
		{
			name: "every prior revision rejected",
			history: []types.Revision{
				rev(3, types.RevisionDeployed),
				rev(2, types.RevisionSuperseded),
				rev(1, types.RevisionSuperseded),
			},
			current:  rev(3, types.RevisionDeployed),
			rejected: map[int]bool{1: true, 2: true},
			noTarget: true,
		},
		{
			name:     "empty history",
			history:  nil,
			current:  rev(1, types.RevisionDeployed),
			noTarget: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := SelectTarget(tt.history, tt.current, tt.rejected)
			if tt.noTarget {
				assert.ErrorIs(t, err, types.ErrNoStableRevision)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, target.ID)
		})
	}
}

func TestSelectTarget_DoesNotReorderInput(t *testing.T) {
	history := []types.Revision{rev(2, types.RevisionSuperseded), rev(3, types.RevisionDeployed)}

	_, err := SelectTarget(history, rev(3, types.RevisionDeployed), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, history[0].ID)
}

func TestRejectedRevisions(t *testing.T) {
	tests := []struct {
		name     string
		events   []types.RollbackEvent
		current  int
		expected []int
	}{
		{
			name:     "no events",
			current:  3,
			expected: nil,
		},
		{
			name: "automated rollback rejects its source and the copied target",
			events: []types.RollbackEvent{
				{FromRevision: 3, ToRevision: 2, TriggeredBy: types.TriggerAutomated, Outcome: types.RollbackInitiated},
				{FromRevision: 3, ToRevision: 2, TriggeredBy: types.TriggerAutomated, Outcome: types.RollbackSucceeded, ResultRevision: 4},
			},
			current:  4,
			expected: []int{2, 3},
		},
		{
			name: "manual rollback source stays eligible",
			events: []types.RollbackEvent{
				{FromRevision: 3, ToRevision: 2, TriggeredBy: types.TriggerManual, Outcome: types.RollbackSucceeded, ResultRevision: 4},
			},
			current:  5,
			expected: nil,
		},
		{
			name: "verification failure rejects target and result",
			events: []types.RollbackEvent{
				{FromRevision: 5, ToRevision: 4, TriggeredBy: types.TriggerManual, Outcome: types.RollbackVerificationFailed, ResultRevision: 6},
			},
			current:  7,
			expected: []int{4, 6},
		},
		{
			name: "reapplying a revision does not reject it",
			events: []types.RollbackEvent{
				{FromRevision: 2, ToRevision: 2, TriggeredBy: types.TriggerAutomated, Outcome: types.RollbackSucceeded, ResultRevision: 3},
			},
			current:  4,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rejected := RejectedRevisions(tt.events, rev(tt.current, types.RevisionDeployed))
			var ids []int
			for id := 1; id <= 10; id++ {
				if rejected[id] {
					ids = append(ids, id)
				}
			}
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestFind(t *testing.T) {
	history := []types.Revision{rev(2, types.RevisionSuperseded), rev(3, types.RevisionDeployed)}

	r, err := Find(history, 2)
	require.NoError(t, err)
	assert.Equal(t, types.RevisionSuperseded, r.Status)

	_, err = Find(history, 9)
	assert.ErrorIs(t, err, types.ErrRevisionNotFound)
}
