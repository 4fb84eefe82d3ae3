package orchestrator

import (
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/decision"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/memory"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
)

// Snapshot is a point-in-time view of the loop for status reporting.
type Snapshot struct {
	Paused      bool
	Stopping    bool
	CurrentTask string

	// LastDecision is the most recent applied decision, nil before the
	// first one.
	LastDecision *decision.Decision

	Memory     memory.Status
	TaskCounts map[scheduler.Status]int
}

// Status assembles a snapshot. Cheap enough to poll.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		Paused:       o.paused,
		Stopping:     o.stopping,
		CurrentTask:  o.current,
		LastDecision: o.lastDecision,
	}
	o.mu.Unlock()

	snap.Memory = o.mem.Status()
	snap.TaskCounts = make(map[scheduler.Status]int)
	for _, t := range o.graph.Tasks() {
		snap.TaskCounts[t.Status]++
	}
	return snap
}
