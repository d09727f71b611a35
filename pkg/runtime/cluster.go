package runtime

import (
	"context"
	"time"

	"github.com/cuemby/rollout/pkg/health"
	"github.com/cuemby/rollout/pkg/types"
)

// Cluster is the orchestrator view the controller needs: instance discovery,
// instance status, endpoint probes, and the two write operations.
type Cluster interface {
	// ListInstances returns the ids of instances matching a label selector
	ListInstances(ctx context.Context, selector string) ([]string, error)

	// InstanceStatus returns phase, readiness and restarts of one instance
	InstanceStatus(ctx context.Context, instanceID string) (types.InstanceStatus, error)

	// ProbeEndpoint checks one endpoint of one instance within timeout
	ProbeEndpoint(ctx context.Context, instanceID, path string, timeout time.Duration) (health.Result, error)

	// Scale sets the replica count of a lineage
	Scale(ctx context.Context, lineage string, replicas int32) error

	// SetImage points the lineage's containers at imageRef
	SetImage(ctx context.Context, lineage, imageRef string) error
}
