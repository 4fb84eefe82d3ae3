package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report persisted task and checkpoint state",
	Long: `Status reads the configured store and prints task counts by
state and the most recent checkpoint with its resume hints.

Examples:
  orchd --config orchd.yaml status`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("status requires a persistent store path in the config")
	}

	st, err := store.Open(cfg.Store, logging.NewNop())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	tasks, err := st.Tasks(ctx)
	if err != nil {
		return err
	}

	counts := make(map[scheduler.Status]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, string(s))
	}
	sort.Strings(states)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d tasks\n", len(tasks))
	for _, s := range states {
		fmt.Fprintf(out, "  %-12s %d\n", s, counts[scheduler.Status(s)])
	}

	cp, err := st.LatestCheckpoint(ctx)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Fprintln(out, "no checkpoints recorded")
		return nil
	}
	fmt.Fprintf(out, "last checkpoint %s (%s) at %s, %d tokens\n",
		cp.ID, cp.Trigger, cp.CreatedAt.Format("2006-01-02 15:04:05"), cp.TokensUsed)
	if cp.Resume.NextTask != "" {
		fmt.Fprintf(out, "  resume with task %s\n", cp.Resume.NextTask)
	}
	for _, b := range cp.Resume.Blockers {
		fmt.Fprintf(out, "  blocker: %s\n", b)
	}
	return nil
}
