package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/controller"
	"github.com/cuemby/rollout/pkg/events"
	"github.com/cuemby/rollout/pkg/health"
	"github.com/cuemby/rollout/pkg/runtime"
	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCluster struct {
	mu       sync.Mutex
	pods     map[string]types.InstanceStatus
	image    string
	replicas int32
	setErr   error
	failing  bool
}

func (s *stubCluster) ListInstances(ctx context.Context, selector string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pods))
	for _, id := range []string{"web-0", "web-1", "web-2"} {
		if _, ok := s.pods[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *stubCluster) InstanceStatus(ctx context.Context, id string) (types.InstanceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pods[id], nil
}

func (s *stubCluster) ProbeEndpoint(ctx context.Context, id, path string, timeout time.Duration) (health.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return health.Result{Healthy: !s.failing, CheckedAt: time.Now()}, nil
}

func (s *stubCluster) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *stubCluster) Scale(ctx context.Context, lineage string, replicas int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicas = replicas
	return nil
}

func (s *stubCluster) SetImage(ctx context.Context, lineage, image string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.image = image
	return nil
}

// stubStore holds revision 2 deployed over a superseded revision 1 and
// records rollbacks as new revisions
type stubStore struct {
	mu         sync.Mutex
	current    int
	targets    []int
	onRollback func()
}

func newStubStore() *stubStore {
	return &stubStore{current: 2}
}

func (s *stubStore) CurrentRevision(ctx context.Context, lineage string) (types.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.Revision{ID: s.current, Status: types.RevisionDeployed}, nil
}

func (s *stubStore) History(ctx context.Context, lineage string, max int) ([]types.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revs := []types.Revision{{ID: s.current, Status: types.RevisionDeployed}}
	for id := s.current - 1; id >= 1; id-- {
		revs = append(revs, types.Revision{ID: id, Status: types.RevisionSuperseded})
	}
	return revs, nil
}

func (s *stubStore) Rollback(ctx context.Context, lineage string, target int, timeout time.Duration) error {
	s.mu.Lock()
	s.targets = append(s.targets, target)
	s.current++
	hook := s.onRollback
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func running(ready bool, restarts int32) types.InstanceStatus {
	return types.InstanceStatus{Phase: runtime.PhaseRunning, Ready: ready, RestartCount: restarts}
}

func newTestDeployer(t *testing.T, cluster *stubCluster, broker *events.Broker) *Deployer {
	t.Helper()
	return newTestDeployerWithStore(t, cluster, newStubStore(), broker)
}

func newTestDeployerWithStore(t *testing.T, cluster *stubCluster, store *stubStore, broker *events.Broker) *Deployer {
	t.Helper()
	audit, err := storage.NewBoltAuditLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	ctrl, err := controller.New(controller.Options{
		Cluster:  cluster,
		Releases: store,
		Audit:    audit,
	})
	require.NoError(t, err)
	return NewDeployer(cluster, store, ctrl, broker)
}

func policy() types.Policy {
	return types.Policy{
		Lineage:      "web",
		Interval:     time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
		Window:       time.Nanosecond,
	}
}

func TestUpdateImage(t *testing.T) {
	cluster := &stubCluster{pods: map[string]types.InstanceStatus{
		"web-0": running(true, 0),
		"web-1": running(true, 0),
	}}
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	d := newTestDeployer(t, cluster, broker)

	var seen []types.Transition
	res, err := d.UpdateImage(context.Background(), policy(), "web:1.2.0", func(tr types.Transition) {
		seen = append(seen, tr)
	})
	require.NoError(t, err)

	assert.Equal(t, "web:1.2.0", cluster.image)
	assert.Equal(t, types.StateStable, res.State)
	assert.Equal(t, types.ReasonHealthy, res.Reason)
	require.NotEmpty(t, seen)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventImageUpdated, ev.Type)
		assert.Equal(t, "web:1.2.0", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("no image event")
	}
}

func TestUpdateImage_UnhealthyImageReappliesCurrentRevision(t *testing.T) {
	cluster := &stubCluster{
		pods:    map[string]types.InstanceStatus{"web-0": running(true, 0)},
		failing: true,
	}
	store := newStubStore()
	store.onRollback = func() { cluster.setFailing(false) }
	d := newTestDeployerWithStore(t, cluster, store, nil)

	p := policy()
	p.Window = 0
	p.MaxAttempts = 2
	p.VerifyChecks = 2
	p.VerifyInterval = time.Millisecond

	res, err := d.UpdateImage(context.Background(), p, "web:broken", nil)
	require.NoError(t, err)

	assert.Equal(t, types.StateStable, res.State)
	assert.Equal(t, types.ReasonRecovered, res.Reason)
	assert.Equal(t, []int{2}, store.targets, "revision 2 holds the last good manifests")

	require.Len(t, res.Events, 2)
	for _, ev := range res.Events {
		assert.Equal(t, 2, ev.FromRevision)
		assert.Equal(t, 2, ev.ToRevision)
	}
	assert.Equal(t, 3, res.Events[1].ResultRevision)
}

func TestUpdateImageFailure(t *testing.T) {
	cluster := &stubCluster{setErr: errors.New("deployment not found")}
	d := newTestDeployer(t, cluster, nil)

	_, err := d.UpdateImage(context.Background(), policy(), "web:1.2.0", nil)
	assert.ErrorContains(t, err, "deployment not found")
}

func TestScale(t *testing.T) {
	cluster := &stubCluster{}
	d := newTestDeployer(t, cluster, nil)

	require.NoError(t, d.Scale(context.Background(), "web", 4))
	assert.Equal(t, int32(4), cluster.replicas)

	assert.Error(t, d.Scale(context.Background(), "web", -1))
}

func TestGetDeploymentStatus(t *testing.T) {
	cluster := &stubCluster{pods: map[string]types.InstanceStatus{
		"web-0": running(true, 0),
		"web-1": running(false, 3),
		"web-2": {Phase: "Pending"},
	}}
	d := newTestDeployer(t, cluster, nil)

	status, err := d.GetDeploymentStatus(context.Background(), policy())
	require.NoError(t, err)

	assert.Equal(t, "web", status.Lineage)
	assert.Equal(t, 2, status.Revision)
	assert.Equal(t, 3, status.TotalInstances)
	assert.Equal(t, 1, status.ReadyInstances)
	assert.Equal(t, int32(3), status.Restarts)
	assert.Equal(t, 2, status.Phases[runtime.PhaseRunning])
	assert.Equal(t, 1, status.Phases["Pending"])
}
