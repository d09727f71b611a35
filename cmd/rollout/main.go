package main

import (
	"fmt"
	"os"

	"github.com/cuemby/rollout/pkg/config"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded from the environment and overridden by persistent flags
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Rollout - health-driven automatic rollback for Helm releases",
	Long: `Rollout watches the instances of a Helm-managed workload, and when they
stay unhealthy it rolls the release back to the last revision that was
successfully deployed, then verifies that health recovered.

Every rollback, automated or manual, is recorded in a local audit log.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		applyGlobalFlags(cmd, loaded)
		cfg = loaded

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Rollout version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringP("namespace", "n", "", "Namespace of the release (env ROLLOUT_NAMESPACE)")
	flags.String("kubeconfig", "", "Path to the kubeconfig file (env KUBECONFIG)")
	flags.String("kube-context", "", "Kubeconfig context to use")
	flags.String("data-dir", "", "Directory holding the audit log (env ROLLOUT_DATA_DIR)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.Bool("log-json", false, "Log in JSON format")
}

func applyGlobalFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("namespace") {
		c.Namespace, _ = flags.GetString("namespace")
	}
	if flags.Changed("kubeconfig") {
		c.KubeConfig, _ = flags.GetString("kubeconfig")
	}
	if flags.Changed("kube-context") {
		c.KubeContext, _ = flags.GetString("kube-context")
	}
	if flags.Changed("data-dir") {
		c.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("log-level") {
		c.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		c.LogJSON, _ = flags.GetBool("log-json")
	}
}
