package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/decision"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/memory"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
)

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(config.StoreConfig{}, nil)
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*MemStore)
	assert.True(t, ok)

	path := t.TempDir() + "/orchd.db"
	s2, err := Open(config.StoreConfig{Path: path}, nil)
	require.NoError(t, err)
	defer s2.Close()
	_, ok = s2.(*SQLiteStore)
	assert.True(t, ok)
}

func TestMemStoreTaskUpsertKeepsOrder(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.SaveTask(ctx, &scheduler.Task{ID: "a", Title: "first", Status: scheduler.StatusPending}))
	require.NoError(t, s.SaveTask(ctx, &scheduler.Task{ID: "b", Title: "second", Status: scheduler.StatusPending}))
	require.NoError(t, s.SaveTask(ctx, &scheduler.Task{ID: "a", Title: "first", Status: scheduler.StatusCompleted}))

	tasks, err := s.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, scheduler.StatusCompleted, tasks[0].Status)
	assert.Equal(t, "b", tasks[1].ID)
}

func TestMemStoreDecisionLogAppendOnly(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendDecision(ctx, &decision.Decision{
			ID: string(rune('a' + i)), TaskID: "t1", Iteration: i, Outcome: decision.Retry,
		}))
	}
	log, err := s.Decisions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, 0, log[0].Iteration)
	assert.Equal(t, 2, log[2].Iteration)

	empty, err := s.Decisions(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemStoreLatestCheckpoint(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	latest, err := s.LatestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, s.SaveCheckpoint(ctx, &memory.Checkpoint{ID: "cp-1", CreatedAt: time.Now()}))
	require.NoError(t, s.SaveCheckpoint(ctx, &memory.Checkpoint{ID: "cp-2", CreatedAt: time.Now()}))

	latest, err = s.LatestCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "cp-2", latest.ID)
}
