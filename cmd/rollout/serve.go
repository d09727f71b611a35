package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/rollout/pkg/api"
	"github.com/cuemby/rollout/pkg/events"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/cuemby/rollout/pkg/reconciler"
	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve -f POLICY_FILE",
	Short: "Run the controller as a long-lived service",
	Long: `Serve watches every lineage in the policy file, one decision loop per
lineage. When a loop ends it is re-armed after one interval. Metrics and
health endpoints are served on --metrics-addr.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := policiesFromFlags(cmd, args)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
		}

		metrics.SetVersion(Version)
		broker := events.NewBroker()
		broker.Start()
		defer func() {
			broker.Stop()
			<-broker.Done()
		}()

		collector := metrics.NewCollector(broker)
		collector.Start()
		defer collector.Stop()

		a, err := newApp(cfg, broker)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hs := api.NewHealthServer(a.readinessChecks(policies))
		logger := log.WithComponent("serve")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics and health endpoints")
			if err := hs.Start(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})

		rec := reconciler.NewReconciler(a.ctrl, policies, nil)
		rec.Start(gctx)
		g.Go(func() error {
			rec.Wait()
			return nil
		})

		fmt.Printf("Watching %d lineages. Press Ctrl+C to stop.\n", len(policies))
		err = g.Wait()
		fmt.Println("✓ Shutdown complete")
		return err
	},
}

// readinessChecks probes the audit log, the cluster API and the release store
func (a *app) readinessChecks(policies []types.Policy) map[string]api.ReadinessCheck {
	return map[string]api.ReadinessCheck{
		"audit": func(ctx context.Context) error {
			it := a.audit.Query(storage.Filter{From: time.Now()})
			it.Next()
			return it.Err()
		},
		"cluster": func(ctx context.Context) error {
			if len(policies) == 0 {
				return nil
			}
			_, err := a.cluster.ListInstances(ctx, policies[0].Selector)
			return err
		},
		"releases": func(ctx context.Context) error {
			for _, p := range policies {
				if _, err := a.releases.CurrentRevision(ctx, p.Lineage); err != nil {
					return fmt.Errorf("%s: %w", p.Lineage, err)
				}
			}
			return nil
		},
	}
}

func init() {
	addPolicyFlags(serveCmd)
	serveCmd.Flags().String("metrics-addr", "", "Address for /metrics and health endpoints (env ROLLOUT_METRICS_ADDR)")

	rootCmd.AddCommand(serveCmd)
}
