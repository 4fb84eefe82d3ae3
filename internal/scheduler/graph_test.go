package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(id string, priority int, deps ...string) *Task {
	return &Task{ID: id, Title: id, Priority: priority, DependsOn: deps}
}

func TestAddTask_Duplicate(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)

	_, err = g.AddTask(ctx, newTask("a", 0))
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestAddTask_UnknownDependency(t *testing.T) {
	g := NewGraph(nil, nil)

	_, err := g.AddTask(context.Background(), newTask("a", 0, "ghost"))
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestAddDependency_CycleRejectedAtomically(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := g.AddTask(ctx, newTask(id, 0))
		require.NoError(t, err)
	}
	require.NoError(t, g.AddDependency(ctx, "b", "a")) // b needs a
	require.NoError(t, g.AddDependency(ctx, "c", "b")) // c needs b

	before := g.Tasks()

	err := g.AddDependency(ctx, "a", "c") // a needs c: cycle
	assert.ErrorIs(t, err, ErrCycleDetected)

	// Rejected edge leaves the graph unchanged.
	after := g.Tasks()
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].DependsOn, after[i].DependsOn)
		assert.Equal(t, before[i].Status, after[i].Status)
	}
}

func TestAddDependency_SelfCycle(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()
	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)

	assert.ErrorIs(t, g.AddDependency(ctx, "a", "a"), ErrCycleDetected)
}

func TestReadyTasks_NeverReturnsIncompleteDeps(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("b", 0, "a"))
	require.NoError(t, err)

	ready := g.ReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)

	require.NoError(t, g.MarkCompleted(ctx, "a"))

	ready = g.ReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].ID)
}

func TestReadyTasks_OrderedByPriorityThenInsertion(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	_, err := g.AddTask(ctx, newTask("low", 1))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("high", 9))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("also-high", 9))
	require.NoError(t, err)

	ready := g.ReadyTasks()
	require.Len(t, ready, 3)
	assert.Equal(t, "high", ready[0].ID)
	assert.Equal(t, "also-high", ready[1].ID, "equal priority breaks ties by insertion order")
	assert.Equal(t, "low", ready[2].ID)
}

func TestMarkCompleted_OnlyPromotesDirectDependents(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("b", 0, "a"))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("c", 0, "b"))
	require.NoError(t, err)

	require.NoError(t, g.MarkCompleted(ctx, "a"))

	b, err := g.Get("b")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, b.Status)

	c, err := g.Get("c")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status, "transitive dependent stays pending")
}

func TestMarkFailed_CascadingBlocksTransitiveDependents(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	// C depends on B, B depends on A.
	_, err := g.AddTask(ctx, newTask("A", 0))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("B", 0, "A"))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("C", 0, "B"))
	require.NoError(t, err)

	require.NoError(t, g.MarkFailed(ctx, "A", true))

	for _, id := range []string{"B", "C"} {
		task, err := g.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusBlocked, task.Status)
		assert.Contains(t, task.BlockedReason, "A")
	}

	assert.Empty(t, g.ReadyTasks(), "blocked tasks are not scheduled")
}

func TestMarkFailed_NonCascadingLeavesDependentsPending(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("b", 0, "a"))
	require.NoError(t, err)

	require.NoError(t, g.MarkFailed(ctx, "a", false))

	b, err := g.Get("b")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, b.Status)
	assert.Empty(t, g.ReadyTasks(), "dependent of failed task is not ready")
}

func TestUnblockTask_ExplicitOverrideOnly(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("b", 0, "a"))
	require.NoError(t, err)

	require.NoError(t, g.MarkFailed(ctx, "a", true))
	assert.ErrorIs(t, g.UnblockTask(ctx, "a"), ErrNotBlocked)

	require.NoError(t, g.UnblockTask(ctx, "b"))
	b, err := g.Get("b")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, b.Status)
	assert.Empty(t, b.BlockedReason)
}

func TestTopologicalOrder(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("b", 0, "a"))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("c", 0, "a"))
	require.NoError(t, err)
	_, err = g.AddTask(ctx, newTask("d", 0, "b", "c"))
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestRecordIteration(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()

	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)

	require.NoError(t, g.RecordIteration(ctx, "a", "retry"))
	require.NoError(t, g.RecordIteration(ctx, "a", "proceed"))

	task, err := g.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, task.Iteration)
	assert.Equal(t, "proceed", task.LastDecision)
}

func TestBlock_ParksTaskForOperator(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()
	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)

	require.NoError(t, g.Block(ctx, "a", "escalated: quality below threshold"))

	task, err := g.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, task.Status)
	assert.Equal(t, "escalated: quality below threshold", task.BlockedReason)
	assert.Empty(t, g.ReadyTasks())

	// UnblockTask is the release path; iteration state survives.
	require.NoError(t, g.RecordIteration(ctx, "a", "retry"))
	require.NoError(t, g.UnblockTask(ctx, "a"))
	task, err = g.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 1, task.Iteration)
	assert.Empty(t, task.BlockedReason)
}

func TestBlock_RejectsTerminalTask(t *testing.T) {
	g := NewGraph(nil, nil)
	ctx := context.Background()
	_, err := g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)
	require.NoError(t, g.MarkCompleted(ctx, "a"))

	assert.Error(t, g.Block(ctx, "a", "too late"))
}

// faultyPersister fails writes on demand so store-failure atomicity can
// be exercised.
type faultyPersister struct {
	failTasks bool
	failEdges bool
}

var errStoreDown = errors.New("store down")

func (p *faultyPersister) SaveTask(context.Context, *Task) error {
	if p.failTasks {
		return errStoreDown
	}
	return nil
}

func (p *faultyPersister) SaveEdge(context.Context, string, string) error {
	if p.failEdges {
		return errStoreDown
	}
	return nil
}

func TestAddTask_PersistFailureLeavesGraphUnchanged(t *testing.T) {
	p := &faultyPersister{failTasks: true}
	g := NewGraph(p, nil)
	ctx := context.Background()

	_, err := g.AddTask(ctx, newTask("a", 0))
	require.ErrorIs(t, err, errStoreDown)

	_, err = g.Get("a")
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Empty(t, g.ReadyTasks())

	// A later retry against a healthy store starts from scratch.
	p.failTasks = false
	_, err = g.AddTask(ctx, newTask("a", 0))
	require.NoError(t, err)
	assert.Len(t, g.ReadyTasks(), 1)
}

func TestAddDependency_PersistFailureLeavesGraphUnchanged(t *testing.T) {
	p := &faultyPersister{}
	g := NewGraph(p, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := g.AddTask(ctx, newTask(id, 0))
		require.NoError(t, err)
	}

	p.failEdges = true
	err := g.AddDependency(ctx, "b", "a")
	require.ErrorIs(t, err, errStoreDown)

	task, err := g.Get("b")
	require.NoError(t, err)
	assert.Empty(t, task.DependsOn)

	// b stays independently schedulable: the failed edge took no effect.
	require.NoError(t, g.MarkInProgress(ctx, "a"))
	ready := g.ReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].ID)
}
