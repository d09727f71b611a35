package main

import (
	"errors"
	"fmt"

	"github.com/cuemby/rollout/pkg/config"
	"github.com/cuemby/rollout/pkg/controller"
	"github.com/cuemby/rollout/pkg/deploy"
	"github.com/cuemby/rollout/pkg/events"
	"github.com/cuemby/rollout/pkg/health"
	"github.com/cuemby/rollout/pkg/lock"
	"github.com/cuemby/rollout/pkg/release"
	"github.com/cuemby/rollout/pkg/runtime"
	"github.com/cuemby/rollout/pkg/storage"
)

// app wires the controller to Kubernetes, Helm, the audit log and the lock
type app struct {
	cluster  *runtime.KubeCluster
	releases *release.HelmStore
	audit    *storage.BoltAuditLog
	locker   lock.Locker
	broker   *events.Broker
	ctrl     *controller.Controller
	deployer *deploy.Deployer
	closers  []func() error
}

func openReleases(c *config.Config) (*release.HelmStore, error) {
	return release.NewHelmStore(release.HelmOptions{
		Namespace:   c.Namespace,
		KubeConfig:  c.KubeConfig,
		KubeContext: c.KubeContext,
		Driver:      c.HelmDriver,
		MaxHistory:  c.HistoryMax,
		Wait:        c.HelmWait,
	})
}

func openAudit(c *config.Config) (*storage.BoltAuditLog, error) {
	audit, err := storage.NewBoltAuditLog(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return audit, nil
}

func openLocker(c *config.Config) (lock.Locker, func() error, error) {
	if c.RedisAddr == "" {
		return lock.NewLocalLocker(), func() error { return nil }, nil
	}
	l, err := lock.NewRedisLocker(c.RedisAddr, c.RedisPassword, c.RedisDB, c.LockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return l, l.Close, nil
}

// newApp builds every component. broker may be nil.
func newApp(c *config.Config, broker *events.Broker) (*app, error) {
	a := &app{broker: broker}

	clientset, err := runtime.NewClientset(c.KubeConfig, c.KubeContext)
	if err != nil {
		return nil, err
	}
	a.cluster = runtime.NewKubeCluster(clientset, runtime.KubeOptions{
		Namespace: c.Namespace,
		Port:      c.ProbePort,
		ProbeType: health.CheckType(c.ProbeType),
	})

	if a.releases, err = openReleases(c); err != nil {
		return nil, err
	}

	if a.audit, err = openAudit(c); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.audit.Close)

	locker, closeLocker, err := openLocker(c)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.locker = locker
	a.closers = append(a.closers, closeLocker)

	a.ctrl, err = controller.New(controller.Options{
		Cluster:      a.cluster,
		Releases:     a.releases,
		Audit:        a.audit,
		Locker:       a.locker,
		Broker:       broker,
		Defaults:     c.Policy(),
		Backoff:      c.Backoff(),
		CallTimeout:  c.CallTimeout,
		HistoryMax:   c.HistoryMax,
		Parallelism:  c.Parallelism,
		VerifyManual: true,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.deployer = deploy.NewDeployer(a.cluster, a.releases, a.ctrl, broker)
	return a, nil
}

// Close releases the audit log and the lock client
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
