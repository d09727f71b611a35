package deploy

import (
	"context"
	"fmt"

	"github.com/cuemby/rollout/pkg/controller"
	"github.com/cuemby/rollout/pkg/events"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/release"
	"github.com/cuemby/rollout/pkg/runtime"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/rs/zerolog"
)

// Deployer changes a lineage and hands it to the decision loop
type Deployer struct {
	cluster    runtime.Cluster
	releases   release.Store
	controller *controller.Controller
	broker     *events.Broker
	logger     zerolog.Logger
}

// NewDeployer creates a new deployer. broker may be nil.
func NewDeployer(cluster runtime.Cluster, releases release.Store, ctrl *controller.Controller, broker *events.Broker) *Deployer {
	return &Deployer{
		cluster:    cluster,
		releases:   releases,
		controller: ctrl,
		broker:     broker,
		logger:     log.WithComponent("deploy"),
	}
}

// UpdateImage points the lineage at image and then monitors it. The image
// change bypasses the release store, so a lineage that stays unhealthy is
// rolled back by reapplying its current release revision.
func (d *Deployer) UpdateImage(ctx context.Context, p types.Policy, image string, observe func(types.Transition)) (types.Result, error) {
	p = d.controller.Policy(p)
	if err := p.Validate(); err != nil {
		return types.Result{}, fmt.Errorf("invalid policy: %w", err)
	}

	logger := d.logger.With().Str("lineage", p.Lineage).Str("image", image).Logger()
	logger.Info().Msg("Updating image")

	if err := d.cluster.SetImage(ctx, p.Lineage, image); err != nil {
		return types.Result{}, fmt.Errorf("failed to update image: %w", err)
	}
	d.publish(&events.Event{
		Type:    events.EventImageUpdated,
		Lineage: p.Lineage,
		Message: image,
	})

	res := d.controller.RunChanged(ctx, p, observe)
	logger.Info().
		Str("state", string(res.State)).
		Str("reason", string(res.Reason)).
		Msg("Deployment watch finished")
	return res, nil
}

// Scale sets the replica count of a lineage
func (d *Deployer) Scale(ctx context.Context, lineage string, replicas int32) error {
	if replicas < 0 {
		return fmt.Errorf("replicas must not be negative")
	}
	if err := d.cluster.Scale(ctx, lineage, replicas); err != nil {
		return fmt.Errorf("failed to scale %s: %w", lineage, err)
	}
	d.logger.Info().Str("lineage", lineage).Int32("replicas", replicas).Msg("Scaled")
	d.publish(&events.Event{
		Type:    events.EventScaled,
		Lineage: lineage,
		Message: fmt.Sprintf("replicas=%d", replicas),
	})
	return nil
}

// GetDeploymentStatus returns the release revision and instance states of a lineage
func (d *Deployer) GetDeploymentStatus(ctx context.Context, p types.Policy) (*DeploymentStatus, error) {
	p = d.controller.Policy(p)

	status := &DeploymentStatus{
		Lineage: p.Lineage,
		Phases:  make(map[string]int),
	}

	rev, err := d.releases.CurrentRevision(ctx, p.Lineage)
	if err != nil {
		return nil, err
	}
	status.Revision = rev.ID

	ids, err := d.cluster.ListInstances(ctx, p.Selector)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	for _, id := range ids {
		st, err := d.cluster.InstanceStatus(ctx, id)
		if err != nil {
			status.Phases["Unknown"]++
			continue
		}
		status.Phases[st.Phase]++
		if st.Ready {
			status.ReadyInstances++
		}
		status.Restarts += st.RestartCount
	}
	status.TotalInstances = len(ids)

	return status, nil
}

func (d *Deployer) publish(ev *events.Event) {
	if d.broker != nil {
		d.broker.Publish(ev)
	}
}

// DeploymentStatus represents the current status of a deployment
type DeploymentStatus struct {
	Lineage        string
	Revision       int
	TotalInstances int
	ReadyInstances int
	Restarts       int32
	Phases         map[string]int // Phase -> Count
}
