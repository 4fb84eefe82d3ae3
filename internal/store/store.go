// Package store provides persistence for tasks, decisions, episodic
// documents, and checkpoints. The in-memory implementation backs tests
// and ephemeral runs; the SQLite implementation backs real sessions.
package store

import (
	"context"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/decision"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/memory"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
)

// Store is the combined persistence surface. Writes are append-only
// except for task upserts; history is never rewritten.
type Store interface {
	scheduler.Persister
	decision.Recorder
	memory.EpisodicPersister
	memory.CheckpointPersister

	// Tasks returns every persisted task, insertion order.
	Tasks(ctx context.Context) ([]*scheduler.Task, error)
	// Decisions returns a task's decision log, oldest first.
	Decisions(ctx context.Context, taskID string) ([]*decision.Decision, error)
	// LatestCheckpoint returns the most recent checkpoint, or nil when
	// none has been taken.
	LatestCheckpoint(ctx context.Context) (*memory.Checkpoint, error)

	Close() error
}

// Open selects a store from config: SQLite when a path is set, memory
// otherwise.
func Open(cfg config.StoreConfig, logger *logging.Logger) (Store, error) {
	if cfg.Path == "" {
		return NewMemStore(), nil
	}
	return OpenSQLite(cfg.Path, logger)
}
