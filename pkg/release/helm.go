package release

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/rs/zerolog"
	"helm.sh/helm/v3/pkg/action"
	helmrelease "helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/storage/driver"
	"k8s.io/cli-runtime/pkg/genericclioptions"
)

// HelmOptions configures a Helm-backed store
type HelmOptions struct {
	// Namespace holding the releases
	Namespace string

	// KubeConfig path; empty uses in-cluster or default loading rules
	KubeConfig string

	// KubeContext selects a context from KubeConfig
	KubeContext string

	// Driver is the Helm storage driver (secret, configmap, memory)
	Driver string

	// MaxHistory bounds the revisions kept per release after a rollback.
	// Zero keeps Helm's unlimited default.
	MaxHistory int

	// Wait makes rollbacks block until resources are ready, bounded by the
	// rollback timeout
	Wait bool
}

// HelmStore implements Store on top of Helm release history. A lineage is a
// Helm release name and a revision is a Helm release version.
type HelmStore struct {
	cfg        *action.Configuration
	maxHistory int
	wait       bool
	logger     zerolog.Logger
}

// NewHelmStore initialises a Helm action configuration for opts
func NewHelmStore(opts HelmOptions) (*HelmStore, error) {
	flags := genericclioptions.NewConfigFlags(true)
	if opts.Namespace != "" {
		flags.Namespace = &opts.Namespace
	}
	if opts.KubeConfig != "" {
		flags.KubeConfig = &opts.KubeConfig
	}
	if opts.KubeContext != "" {
		flags.Context = &opts.KubeContext
	}

	logger := log.WithComponent("helm")
	cfg := new(action.Configuration)
	err := cfg.Init(flags, opts.Namespace, opts.Driver, func(format string, v ...interface{}) {
		logger.Debug().Msgf(format, v...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise helm: %w", err)
	}

	return NewHelmStoreFromConfig(cfg, opts), nil
}

// NewHelmStoreFromConfig wraps an already initialised action configuration
func NewHelmStoreFromConfig(cfg *action.Configuration, opts HelmOptions) *HelmStore {
	return &HelmStore{
		cfg:        cfg,
		maxHistory: opts.MaxHistory,
		wait:       opts.Wait,
		logger:     log.WithComponent("helm"),
	}
}

// CurrentRevision returns the deployed release version
func (s *HelmStore) CurrentRevision(ctx context.Context, lineage string) (types.Revision, error) {
	if err := ctx.Err(); err != nil {
		return types.Revision{}, err
	}
	rel, err := s.cfg.Releases.Deployed(lineage)
	if err != nil {
		// Helm formats rather than wraps this sentinel
		if errors.Is(err, driver.ErrReleaseNotFound) || strings.Contains(err.Error(), driver.ErrNoDeployedReleases.Error()) {
			return types.Revision{}, fmt.Errorf("%s has no deployed release: %w", lineage, types.ErrRevisionNotFound)
		}
		return types.Revision{}, fmt.Errorf("failed to get deployed release %s: %w", lineage, err)
	}
	return toRevision(rel), nil
}

// History lists release versions newest first
func (s *HelmStore) History(ctx context.Context, lineage string, maxEntries int) ([]types.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := action.NewHistory(s.cfg)
	client.Max = maxEntries

	rels, err := client.Run(lineage)
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s: %w", lineage, err)
	}

	revs := make([]types.Revision, 0, len(rels))
	for _, rel := range rels {
		revs = append(revs, toRevision(rel))
	}
	SortNewestFirst(revs)
	if maxEntries > 0 && len(revs) > maxEntries {
		revs = revs[:maxEntries]
	}
	return revs, nil
}

// Rollback runs a Helm rollback to targetRevision. Helm's rollback is not
// context aware; timeout bounds its wait for resources instead.
func (s *HelmStore) Rollback(ctx context.Context, lineage string, targetRevision int, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client := action.NewRollback(s.cfg)
	client.Version = targetRevision
	client.Timeout = timeout
	client.Wait = s.wait
	client.MaxHistory = s.maxHistory
	// Remove resources created by a rollback that fails
	client.CleanupOnFail = true

	s.logger.Debug().
		Str("lineage", lineage).
		Int("revision", targetRevision).
		Dur("timeout", timeout).
		Msg("running helm rollback")

	if err := client.Run(lineage); err != nil {
		return fmt.Errorf("helm rollback of %s to %d: %v: %w", lineage, targetRevision, err, types.ErrRollbackRejected)
	}
	return nil
}

func toRevision(rel *helmrelease.Release) types.Revision {
	r := types.Revision{ID: rel.Version}
	if rel.Info != nil {
		r.Status = toStatus(rel.Info.Status)
		r.CreatedAt = rel.Info.FirstDeployed.Time
		if !rel.Info.LastDeployed.IsZero() {
			r.CreatedAt = rel.Info.LastDeployed.Time
		}
	} else {
		r.Status = types.RevisionFailed
	}
	return r
}

// toStatus collapses Helm's release statuses onto the three revision statuses.
// Pending, uninstalled and unknown releases are never rollback targets.
func toStatus(s helmrelease.Status) types.RevisionStatus {
	switch s {
	case helmrelease.StatusDeployed:
		return types.RevisionDeployed
	case helmrelease.StatusSuperseded:
		return types.RevisionSuperseded
	default:
		return types.RevisionFailed
	}
}
