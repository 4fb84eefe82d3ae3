package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
)

// Persister receives task and edge mutations for durable storage. The
// graph remains authoritative in memory; persistence is write-through.
type Persister interface {
	SaveTask(ctx context.Context, task *Task) error
	SaveEdge(ctx context.Context, from, to string) error
}

// Graph is a dependency-aware task scheduler over a DAG. The no-cycle
// invariant is enforced at edge insertion; rejected edges leave the graph
// unchanged.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	dependents map[string][]string // taskID -> tasks that depend on it
	nextSeq    int

	persister Persister
	logger    *logging.Logger
}

// NewGraph creates an empty task graph. persister may be nil for purely
// in-memory operation.
func NewGraph(persister Persister, logger *logging.Logger) *Graph {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Graph{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
		persister:  persister,
		logger:     logger.Named("scheduler"),
	}
}

// AddTask registers a task in Pending state.
func (g *Graph) AddTask(ctx context.Context, task *Task) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if task.ID == "" {
		return "", fmt.Errorf("%w: empty task ID", ErrUnknownTask)
	}
	if _, exists := g.tasks[task.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	for _, depID := range task.DependsOn {
		if _, exists := g.tasks[depID]; !exists {
			return "", fmt.Errorf("%w: dependency %s", ErrUnknownTask, depID)
		}
	}

	t := task.Clone()
	t.Status = StatusPending
	t.seq = g.nextSeq
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	// Persist before touching the maps so a store failure leaves the
	// graph unchanged.
	if err := g.persist(ctx, t); err != nil {
		return "", err
	}
	if g.persister != nil {
		for _, depID := range t.DependsOn {
			if err := g.persister.SaveEdge(ctx, depID, t.ID); err != nil {
				return "", fmt.Errorf("persisting edge %s->%s: %w", depID, t.ID, err)
			}
		}
	}

	g.tasks[t.ID] = t
	for _, depID := range t.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], t.ID)
	}
	g.nextSeq++

	g.logger.Debug(ctx, "task registered",
		zap.String("task_id", t.ID),
		zap.Int("priority", t.Priority),
		zap.Int("dependencies", len(t.DependsOn)),
	)
	return t.ID, nil
}

// AddDependency inserts an edge meaning taskID requires dependsOnID to be
// Completed. Fails with ErrCycleDetected if a cycle would result; the
// rejection is atomic.
func (g *Graph) AddDependency(ctx context.Context, taskID, dependsOnID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if _, exists := g.tasks[dependsOnID]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, dependsOnID)
	}
	if taskID == dependsOnID {
		return fmt.Errorf("%w: %s depends on itself", ErrCycleDetected, taskID)
	}
	for _, depID := range task.DependsOn {
		if depID == dependsOnID {
			return nil // edge already present
		}
	}

	// Incremental DFS from the new edge's endpoints: a cycle exists iff
	// taskID is already reachable from dependsOnID through existing
	// depends-on links. O(V+E), no full-graph re-scan.
	if g.reachable(dependsOnID, taskID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, dependsOnID, taskID)
	}

	// Stage the change and persist it before mutating graph state, so a
	// store failure leaves memory and store consistent.
	staged := task.Clone()
	staged.DependsOn = append(staged.DependsOn, dependsOnID)
	staged.UpdatedAt = time.Now()

	// A Ready task gains an unsatisfied dependency.
	if staged.Status == StatusReady && !g.depsCompleted(staged) {
		staged.Status = StatusPending
	}

	if err := g.persist(ctx, staged); err != nil {
		return err
	}
	if g.persister != nil {
		if err := g.persister.SaveEdge(ctx, dependsOnID, taskID); err != nil {
			return fmt.Errorf("persisting edge %s->%s: %w", dependsOnID, taskID, err)
		}
	}

	*task = *staged
	g.dependents[dependsOnID] = append(g.dependents[dependsOnID], taskID)
	return nil
}

// reachable reports whether to is reachable from from by following
// depends-on links. Caller holds the lock.
func (g *Graph) reachable(from, to string) bool {
	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		if t, ok := g.tasks[id]; ok {
			stack = append(stack, t.DependsOn...)
		}
	}
	return false
}

// depsCompleted reports whether all of a task's dependencies are
// Completed. Caller holds the lock.
func (g *Graph) depsCompleted(task *Task) bool {
	for _, depID := range task.DependsOn {
		dep, ok := g.tasks[depID]
		if !ok || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// ReadyTasks returns all tasks whose dependencies are all Completed,
// ordered by priority descending then insertion order. The ordering is
// deterministic for reproducible runs.
func (g *Graph) ReadyTasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ready := make([]*Task, 0)
	for _, t := range g.tasks {
		if t.Status != StatusPending && t.Status != StatusReady {
			continue
		}
		if g.depsCompleted(t) {
			ready = append(ready, t.Clone())
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].seq < ready[j].seq
	})
	return ready
}

// MarkInProgress transfers ownership of a task to the orchestration loop.
func (g *Graph) MarkInProgress(ctx context.Context, taskID string) error {
	return g.setStatus(ctx, taskID, StatusInProgress, "")
}

// ReturnToPending hands a task back to the scheduler in a resumable
// state, e.g. after a stop command interrupts an in-flight iteration.
func (g *Graph) ReturnToPending(ctx context.Context, taskID string) error {
	return g.setStatus(ctx, taskID, StatusPending, "")
}

// MarkCompleted transitions a task to Completed and recomputes readiness
// for its direct dependents only.
func (g *Graph) MarkCompleted(ctx context.Context, taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	task.Status = StatusCompleted
	task.UpdatedAt = time.Now()
	if err := g.persist(ctx, task); err != nil {
		return err
	}

	// Local recompute: only direct dependents can change readiness.
	for _, depID := range g.dependents[taskID] {
		dep := g.tasks[depID]
		if dep.Status == StatusPending && g.depsCompleted(dep) {
			dep.Status = StatusReady
			dep.UpdatedAt = time.Now()
			if err := g.persist(ctx, dep); err != nil {
				return err
			}
			g.logger.Debug(ctx, "task unblocked by completion",
				zap.String("task_id", dep.ID),
				zap.String("completed", taskID),
			)
		}
	}
	return nil
}

// MarkFailed transitions a task to Failed. When cascading is true, all
// transitive dependents are marked Blocked with a reason referencing the
// original failure. Blocked tasks are only unblocked via explicit
// override (UnblockTask).
func (g *Graph) MarkFailed(ctx context.Context, taskID string, cascading bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	task.Status = StatusFailed
	task.UpdatedAt = time.Now()
	if err := g.persist(ctx, task); err != nil {
		return err
	}

	if !cascading {
		return nil
	}

	reason := fmt.Sprintf("blocked by failed dependency %s", taskID)
	queue := append([]string(nil), g.dependents[taskID]...)
	seen := make(map[string]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		dep := g.tasks[id]
		if dep.Status.Terminal() {
			continue
		}
		dep.Status = StatusBlocked
		dep.BlockedReason = reason
		dep.UpdatedAt = time.Now()
		if err := g.persist(ctx, dep); err != nil {
			return err
		}
		queue = append(queue, g.dependents[id]...)
	}

	g.logger.Warn(ctx, "cascading failure propagated",
		zap.String("task_id", taskID),
		zap.Int("blocked", len(seen)),
	)
	return nil
}

// Block parks a non-terminal task pending operator resolution. The task
// keeps its iteration state; UnblockTask returns it to Pending.
func (g *Graph) Block(ctx context.Context, taskID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("cannot block %s: already %s", taskID, task.Status)
	}
	task.Status = StatusBlocked
	task.BlockedReason = reason
	task.UpdatedAt = time.Now()
	return g.persist(ctx, task)
}

// UnblockTask clears a Blocked task back to Pending. Human override only.
func (g *Graph) UnblockTask(ctx context.Context, taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status != StatusBlocked {
		return fmt.Errorf("%w: %s is %s", ErrNotBlocked, taskID, task.Status)
	}
	task.Status = StatusPending
	task.BlockedReason = ""
	task.UpdatedAt = time.Now()
	return g.persist(ctx, task)
}

// RecordIteration increments a task's iteration counter and records the
// latest decision label.
func (g *Graph) RecordIteration(ctx context.Context, taskID, decision string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	task.Iteration++
	task.LastDecision = decision
	task.UpdatedAt = time.Now()
	return g.persist(ctx, task)
}

// Get returns a copy of a task.
func (g *Graph) Get(taskID string) (*Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	return task.Clone(), nil
}

// Tasks returns copies of all tasks in insertion order.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	all := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		all = append(all, t.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	return all
}

// TopologicalOrder returns a full ordering honoring all edges (Kahn's
// algorithm, insertion-order tie-break). Used for planning and reports;
// live scheduling goes through ReadyTasks.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indegree := make(map[string]int, len(g.tasks))
	for id, t := range g.tasks {
		indegree[id] = len(t.DependsOn)
	}

	frontier := make([]*Task, 0)
	for id, t := range g.tasks {
		if indegree[id] == 0 {
			frontier = append(frontier, t)
		}
	}

	order := make([]string, 0, len(g.tasks))
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].seq < frontier[j].seq })
		next := frontier[0]
		frontier = frontier[1:]
		order = append(order, next.ID)

		for _, depID := range g.dependents[next.ID] {
			indegree[depID]--
			if indegree[depID] == 0 {
				frontier = append(frontier, g.tasks[depID])
			}
		}
	}

	// Edge insertion rejects cycles, so this only trips on corrupted state.
	if len(order) != len(g.tasks) {
		return nil, fmt.Errorf("%w: %d tasks unreachable in ordering", ErrCycleDetected, len(g.tasks)-len(order))
	}
	return order, nil
}

func (g *Graph) setStatus(ctx context.Context, taskID string, status Status, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	task.Status = status
	task.BlockedReason = reason
	task.UpdatedAt = time.Now()
	return g.persist(ctx, task)
}

func (g *Graph) persist(ctx context.Context, task *Task) error {
	if g.persister == nil {
		return nil
	}
	if err := g.persister.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("persisting task %s: %w", task.ID, err)
	}
	return nil
}
