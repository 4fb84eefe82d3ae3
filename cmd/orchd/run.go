package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/agent"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/decision"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/memory"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/orchestrator"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/plan"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/store"
)

var statusInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Run a work plan through the orchestration loop",
	Long: `Run loads the plan file, registers its tasks with the scheduler,
and drives them to completion. SIGINT and SIGTERM trigger a clean stop
with a final checkpoint.

Examples:
  # Run a plan with the default config
  orchd run plan.yaml

  # Run with an explicit config file
  orchd run --config ./orchd.yaml plan.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&statusInterval, "status-interval", 30*time.Second,
		"how often to log a status snapshot")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	for k, v := range cfg.Logging.Fields {
		logCfg.Fields[k] = v
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	archive, err := store.NewEpisodicArchive(cfg.Store.ArchivePath, logger)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	registry := agent.DefaultRegistry()
	worker, err := registry.NewWorker(cfg.Dispatch.WorkerBackend, cfg, logger)
	if err != nil {
		return err
	}
	ag, err := registry.NewAgent(cfg.Dispatch.AgentBackend, cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if hc, ok := ag.(agent.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			logger.Warn(ctx, "agent backend not healthy at startup", zap.Error(err))
		}
	}

	graph := scheduler.NewGraph(st, logger)
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}
	if err := p.Apply(ctx, graph); err != nil {
		return err
	}
	logger.Info(ctx, "plan loaded",
		zap.String("path", args[0]),
		zap.Int("tasks", len(p.Tasks)))

	mem := memory.NewManager(cfg, worker, memory.Deps{
		Episodic:    st,
		Checkpoints: st,
		Archive:     archive,
	}, logger)
	engine := decision.NewEngine(cfg.Decision, worker, st, logger)
	orch := orchestrator.New(cfg, graph, engine, mem, ag, logger)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, _ := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		defer cancel()
		return orch.Run(loopCtx)
	})
	g.Go(func() error {
		statusLoop(loopCtx, orch, logger)
		return nil
	})
	return g.Wait()
}

// statusLoop logs a snapshot on a fixed cadence until ctx ends.
func statusLoop(ctx context.Context, orch *orchestrator.Orchestrator, logger *logging.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := orch.Status()
			fields := []zap.Field{
				zap.String("zone", snap.Memory.Zone.String()),
				zap.Int("tokens_used", snap.Memory.TokensUsed),
				zap.Int("tokens_max", snap.Memory.TokensMax),
				zap.Bool("paused", snap.Paused),
				zap.String("current_task", snap.CurrentTask),
			}
			for status, n := range snap.TaskCounts {
				fields = append(fields, zap.Int("tasks_"+string(status), n))
			}
			if d := snap.LastDecision; d != nil {
				fields = append(fields,
					zap.String("last_decision", string(d.Outcome)),
					zap.String("last_decision_task", d.TaskID))
			}
			logger.Info(ctx, "orchestrator status", fields...)
		case <-ctx.Done():
			return
		}
	}
}
