package store

import (
	"context"
	"sync"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/decision"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/memory"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
)

// MemStore is the in-memory Store. Safe for concurrent use.
type MemStore struct {
	mu          sync.Mutex
	taskOrder   []string
	tasks       map[string]*scheduler.Task
	edges       map[[2]string]struct{}
	decisions   map[string][]*decision.Decision
	episodic    []*memory.EpisodicDocument
	checkpoints []*memory.Checkpoint
}

func NewMemStore() *MemStore {
	return &MemStore{
		tasks:     make(map[string]*scheduler.Task),
		edges:     make(map[[2]string]struct{}),
		decisions: make(map[string][]*decision.Decision),
	}
}

func (s *MemStore) SaveTask(_ context.Context, task *scheduler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		s.taskOrder = append(s.taskOrder, task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemStore) SaveEdge(_ context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[[2]string{from, to}] = struct{}{}
	return nil
}

func (s *MemStore) AppendDecision(_ context.Context, d *decision.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.decisions[d.TaskID] = append(s.decisions[d.TaskID], &cp)
	return nil
}

func (s *MemStore) SaveEpisodic(_ context.Context, doc *memory.EpisodicDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.episodic = append(s.episodic, &cp)
	return nil
}

func (s *MemStore) SaveCheckpoint(_ context.Context, cp *memory.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	s.checkpoints = append(s.checkpoints, &c)
	return nil
}

func (s *MemStore) Tasks(context.Context) ([]*scheduler.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*scheduler.Task, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

func (s *MemStore) Decisions(_ context.Context, taskID string) ([]*decision.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.decisions[taskID]
	out := make([]*decision.Decision, len(log))
	for i, d := range log {
		cp := *d
		out[i] = &cp
	}
	return out, nil
}

func (s *MemStore) LatestCheckpoint(context.Context) (*memory.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.checkpoints) == 0 {
		return nil, nil
	}
	cp := *s.checkpoints[len(s.checkpoints)-1]
	return &cp, nil
}

func (s *MemStore) Close() error { return nil }
