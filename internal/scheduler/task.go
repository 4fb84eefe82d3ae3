package scheduler

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusBlocked    Status = "blocked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is a terminal state. Tasks are never
// deleted, only terminally marked.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a unit of schedulable work. The scheduler owns a task while it
// is Pending, Ready, or Blocked; ownership transfers to the orchestration
// loop for the InProgress span.
type Task struct {
	ID          string
	Title       string
	Description string
	Priority    int
	Status      Status
	DependsOn   []string

	// Iteration counts decision-engine passes for this task.
	Iteration int
	// LastDecision is the most recent decision outcome label.
	LastDecision string
	// BlockedReason references the originating failure for Blocked tasks.
	BlockedReason string

	CreatedAt time.Time
	UpdatedAt time.Time

	// seq is the insertion order, the stable tie-break for scheduling.
	seq int
}

// Seq returns the task's insertion order.
func (t *Task) Seq() int { return t.seq }

// Clone returns a deep copy so callers cannot mutate scheduler state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return &cp
}
