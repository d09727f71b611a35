package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback LINEAGE REVISION",
	Short: "Roll a lineage back to a revision",
	Long: `Roll a lineage back to REVISION and wait for it to report healthy.
Rolling back to the revision already running does nothing and is recorded
as a success.

Examples:
  rollout rollback web 4`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		revision, err := strconv.Atoi(args[1])
		if err != nil || revision < 1 {
			return fmt.Errorf("invalid revision %q", args[1])
		}
		policies, err := policiesFromFlags(cmd, args[:1])
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

		fmt.Printf("Rolling back %s to revision %d...\n", args[0], revision)
		ev, err := a.ctrl.RollbackTo(ctx, policies[0], revision)
		if ev.ID != "" {
			fmt.Printf("  %d -> %d %s", ev.FromRevision, ev.ToRevision, ev.Outcome)
			if ev.Message != "" {
				fmt.Printf(" (%s)", ev.Message)
			}
			fmt.Println()
		}
		if err != nil {
			return err
		}
		fmt.Println("✓ Rollback complete")
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history LINEAGE",
	Short: "List the revisions of a lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		releases, err := openReleases(cfg)
		if err != nil {
			return err
		}
		maxEntries := cfg.HistoryMax
		if cmd.Flags().Changed("max") {
			maxEntries, _ = cmd.Flags().GetInt("max")
		}

		revs, err := releases.History(cmd.Context(), args[0], maxEntries)
		if err != nil {
			return err
		}
		current := 0
		if rev, err := releases.CurrentRevision(cmd.Context(), args[0]); err == nil {
			current = rev.ID
		}

		if output, _ := cmd.Flags().GetString("output"); output == "json" {
			return printJSON(revs)
		}
		printRevisions(revs, current)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recorded rollback events",
	Long: `Show rollback events recorded in the audit log, oldest first.

--since and --until take an RFC3339 time or a duration counted back from now.

Examples:
  rollout audit --since 24h
  rollout audit --lineage web --since 2024-05-01T00:00:00Z --until 2024-05-02T00:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := storage.Filter{}
		filter.Lineage, _ = cmd.Flags().GetString("lineage")

		now := time.Now()
		var err error
		since, _ := cmd.Flags().GetString("since")
		if filter.From, err = parseTime(since, now); err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		until, _ := cmd.Flags().GetString("until")
		if filter.To, err = parseTime(until, now); err != nil {
			return fmt.Errorf("--until: %w", err)
		}

		audit, err := openAudit(cfg)
		if err != nil {
			return err
		}
		defer audit.Close()

		evs, err := storage.Collect(audit.Query(filter))
		if err != nil {
			return err
		}

		if output, _ := cmd.Flags().GetString("output"); output == "json" {
			if evs == nil {
				evs = []types.RollbackEvent{}
			}
			return printJSON(evs)
		}
		if len(evs) == 0 {
			fmt.Println("No rollback events")
			return nil
		}
		printEvents(evs)
		return nil
	},
}

// parseTime accepts RFC3339 or a duration before now. Empty is the zero time.
func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor a duration", s)
	}
	return t, nil
}

func init() {
	addPolicyFlags(rollbackCmd)

	historyCmd.Flags().Int("max", 0, "Maximum revisions to list (default ROLLOUT_HISTORY_MAX)")
	historyCmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	auditCmd.Flags().String("lineage", "", "Only events of this lineage")
	auditCmd.Flags().String("since", "", "Start of the range (inclusive)")
	auditCmd.Flags().String("until", "", "End of the range (exclusive, default now)")
	auditCmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(auditCmd)
}
