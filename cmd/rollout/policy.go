package main

import (
	"fmt"

	"github.com/cuemby/rollout/pkg/config"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/spf13/cobra"
)

// addPolicyFlags registers the flags that override a policy
func addPolicyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("file", "f", "", "RolloutPolicy YAML file")
	flags.StringP("selector", "l", "", "Label selector of the instances (default app.kubernetes.io/instance=LINEAGE)")
	flags.Duration("interval", 0, "Time between evaluations")
	flags.Duration("probe-timeout", 0, "Timeout of each instance probe")
	flags.Int("max-attempts", 0, "Consecutive unhealthy evaluations before rolling back")
	flags.StringSlice("path", nil, "Endpoint path to probe on every instance (repeatable)")
	flags.Int32("max-restarts", 0, "Restart count above which an instance is unhealthy (negative disables)")
	flags.Int("verify-checks", 0, "Health re-checks after a rollback")
	flags.Duration("verify-interval", 0, "Wait before each re-check")
	flags.Duration("rollback-timeout", 0, "Timeout of one rollback")
	flags.Duration("window", 0, "Report STABLE once the lineage is healthy after this long (0 watches until interrupted)")
}

// policiesFromFlags returns the policies named by -f and the positional
// lineage, with flag overrides applied
func policiesFromFlags(cmd *cobra.Command, args []string) ([]types.Policy, error) {
	file, _ := cmd.Flags().GetString("file")

	var policies []types.Policy
	switch {
	case file != "":
		loaded, err := config.LoadPolicyFile(file)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			if len(args) == 0 || p.Lineage == args[0] {
				policies = append(policies, p)
			}
		}
		if len(policies) == 0 {
			return nil, fmt.Errorf("no policy for %s in %s", args[0], file)
		}
	case len(args) == 1:
		policies = []types.Policy{{Lineage: args[0]}}
	default:
		return nil, fmt.Errorf("a lineage or --file is required")
	}

	for i := range policies {
		applyPolicyFlags(cmd, &policies[i])
		policies[i] = policies[i].WithDefaults(cfg.Policy())
		if err := policies[i].Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", policies[i].Lineage, err)
		}
	}
	return policies, nil
}

func applyPolicyFlags(cmd *cobra.Command, p *types.Policy) {
	flags := cmd.Flags()
	if flags.Changed("selector") {
		p.Selector, _ = flags.GetString("selector")
	}
	if flags.Changed("interval") {
		p.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("probe-timeout") {
		p.ProbeTimeout, _ = flags.GetDuration("probe-timeout")
	}
	if flags.Changed("max-attempts") {
		p.MaxAttempts, _ = flags.GetInt("max-attempts")
	}
	if flags.Changed("path") {
		p.Paths, _ = flags.GetStringSlice("path")
	}
	if flags.Changed("max-restarts") {
		p.MaxRestarts, _ = flags.GetInt32("max-restarts")
	}
	if flags.Changed("verify-checks") {
		p.VerifyChecks, _ = flags.GetInt("verify-checks")
	}
	if flags.Changed("verify-interval") {
		p.VerifyInterval, _ = flags.GetDuration("verify-interval")
	}
	if flags.Changed("rollback-timeout") {
		p.RollbackTimeout, _ = flags.GetDuration("rollback-timeout")
	}
	if flags.Changed("window") {
		p.Window, _ = flags.GetDuration("window")
	}
}
