package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/cuemby/rollout/pkg/types"
)

func printEvaluation(eval *types.Evaluation) {
	fmt.Printf("%s: %s (%s)\n", eval.Lineage, eval.Verdict, eval.CheckedAt.Format(time.RFC3339))

	t := tabby.New()
	t.AddHeader("Instance", "Outcome", "Message")
	for _, s := range eval.Samples {
		t.AddLine(s.InstanceID, s.Outcome, s.Message)
	}
	t.Print()
}

func printTransition(t types.Transition) {
	line := fmt.Sprintf("%s  %-12s %s -> %s", t.At.Format(time.RFC3339), t.Lineage, t.From, t.To)
	if t.Reason != types.ReasonNone {
		line += fmt.Sprintf(" (%s", t.Reason)
		if t.Attempt > 0 {
			line += fmt.Sprintf(", attempt %d", t.Attempt)
		}
		line += ")"
	}
	if t.Err != nil {
		line += ": " + t.Err.Error()
	}
	fmt.Println(line)
}

func printResult(res types.Result) {
	if res.State == types.StateStable {
		fmt.Printf("✓ %s %s (%s)\n", res.Lineage, res.State, res.Reason)
	} else {
		fmt.Printf("✗ %s %s (%s)\n", res.Lineage, res.State, res.Reason)
	}
	if res.Err != nil {
		fmt.Printf("  %v\n", res.Err)
	}
	for _, ev := range res.Events {
		fmt.Printf("  event %s: %d -> %d %s\n", ev.ID, ev.FromRevision, ev.ToRevision, ev.Outcome)
	}
}

func printRevisions(revs []types.Revision, current int) {
	t := tabby.New()
	t.AddHeader("Revision", "Status", "Deployed", "")
	for _, r := range revs {
		marker := ""
		if r.ID == current {
			marker = "current"
		}
		t.AddLine(r.ID, r.Status, r.CreatedAt.Format(time.RFC3339), marker)
	}
	t.Print()
}

func printEvents(evs []types.RollbackEvent) {
	t := tabby.New()
	t.AddHeader("Time", "Lineage", "From", "To", "Trigger", "Outcome", "Reason")
	for _, ev := range evs {
		t.AddLine(
			ev.Timestamp.Format(time.RFC3339),
			ev.Lineage,
			ev.FromRevision,
			ev.ToRevision,
			ev.TriggeredBy,
			ev.Outcome,
			ev.Reason,
		)
	}
	t.Print()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
