package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate LINEAGE",
	Short: "Probe every instance of a lineage once",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := policiesFromFlags(cmd, args)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		unhealthy := 0
		for _, p := range policies {
			eval, err := a.ctrl.EvaluateOnce(ctx, p)
			if err != nil {
				return fmt.Errorf("%s: %w", p.Lineage, err)
			}
			printEvaluation(eval)
			if !eval.Healthy() {
				unhealthy++
			}
		}
		if unhealthy > 0 {
			return fmt.Errorf("%d of %d lineages unhealthy", unhealthy, len(policies))
		}
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [LINEAGE]",
	Short: "Watch a lineage and roll it back when it stays unhealthy",
	Long: `Monitor evaluates the lineage every --interval. After --max-attempts
consecutive unhealthy evaluations it rolls the release back to the newest
earlier revision that was successfully deployed, then re-checks health.

Examples:
  # Watch one release with defaults
  rollout monitor web

  # Watch every lineage in a policy file
  rollout monitor -f policies.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := policiesFromFlags(cmd, args)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		results := make([]types.Result, len(policies))
		g, gctx := errgroup.WithContext(ctx)
		for i, p := range policies {
			i, p := i, p
			g.Go(func() error {
				transitions, done := a.ctrl.Monitor(gctx, p)
				for t := range transitions {
					printTransition(t)
				}
				results[i] = <-done
				return nil
			})
		}
		_ = g.Wait()

		failed := 0
		for _, res := range results {
			printResult(res)
			if res.State == types.StateFailed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d lineages ended FAILED", failed)
		}
		return nil
	},
}

func init() {
	addPolicyFlags(evaluateCmd)
	addPolicyFlags(monitorCmd)

	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(monitorCmd)
}
