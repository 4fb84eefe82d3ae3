package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/plan"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
)

var planCmd = &cobra.Command{
	Use:   "plan <plan.yaml>",
	Short: "Validate a plan and print its execution order",
	Long: `Plan loads the file, checks task IDs and dependency references,
rejects cycles, and prints the tasks in a valid execution order.

Examples:
  orchd plan plan.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	g := scheduler.NewGraph(nil, nil)
	if err := p.Apply(context.Background(), g); err != nil {
		return err
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}

	byID := make(map[string]plan.TaskSpec, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d tasks, valid execution order:\n", len(order))
	for i, id := range order {
		t := byID[id]
		fmt.Fprintf(cmd.OutOrStdout(), "%3d. %s  %s", i+1, t.ID, t.Title)
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "  (after %v)", t.DependsOn)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}
