package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy LINEAGE --image IMAGE",
	Short: "Update the image of a lineage and watch it",
	Long: `Point the lineage's Deployment at a new image, then monitor it. If the
lineage stays unhealthy it is rolled back to its last stable release revision.

Examples:
  rollout deploy web --image registry.example.com/web:1.4.2 --window 5m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")
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

		fmt.Printf("Deploying %s to %s\n", image, args[0])
		res, err := a.deployer.UpdateImage(ctx, policies[0], image, printTransition)
		if err != nil {
			return err
		}
		printResult(res)
		if res.State == types.StateFailed {
			return fmt.Errorf("deployment of %s ended %s (%s)", args[0], res.State, res.Reason)
		}
		return nil
	},
}

var scaleCmd = &cobra.Command{
	Use:   "scale LINEAGE REPLICAS",
	Short: "Set the replica count of a lineage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		replicas, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid replica count %q", args[1])
		}

		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.deployer.Scale(cmd.Context(), args[0], int32(replicas)); err != nil {
			return err
		}
		fmt.Printf("✓ %s scaled to %d replicas\n", args[0], replicas)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status LINEAGE",
	Short: "Show the revision and instance states of a lineage",
	Args:  cobra.ExactArgs(1),
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

		status, err := a.deployer.GetDeploymentStatus(cmd.Context(), policies[0])
		if err != nil {
			return err
		}

		fmt.Printf("Lineage:   %s\n", status.Lineage)
		fmt.Printf("Revision:  %d\n", status.Revision)
		fmt.Printf("Instances: %d/%d ready\n", status.ReadyInstances, status.TotalInstances)
		fmt.Printf("Restarts:  %d\n", status.Restarts)

		phases := make([]string, 0, len(status.Phases))
		for phase := range status.Phases {
			phases = append(phases, phase)
		}
		sort.Strings(phases)
		for _, phase := range phases {
			fmt.Printf("  %-10s %d\n", phase, status.Phases[phase])
		}
		return nil
	},
}

func init() {
	addPolicyFlags(deployCmd)
	deployCmd.Flags().String("image", "", "Container image reference (required)")
	_ = deployCmd.MarkFlagRequired("image")

	addPolicyFlags(statusCmd)

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(statusCmd)
}
