package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
)

// fakeStore implements all three persistence interfaces in memory.
type fakeStore struct {
	mu          sync.Mutex
	episodic    []*EpisodicDocument
	checkpoints []*Checkpoint
	indexed     []string
}

func (f *fakeStore) SaveEpisodic(_ context.Context, doc *EpisodicDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.episodic = append(f.episodic, &cp)
	return nil
}

func (f *fakeStore) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *cp
	f.checkpoints = append(f.checkpoints, &c)
	return nil
}

func (f *fakeStore) IndexSnapshot(_ context.Context, kind EpisodicKind, version int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, fmt.Sprintf("%s:%d", kind, version))
	return nil
}

func (f *fakeStore) Search(context.Context, string, int) ([]ArchiveResult, error) {
	return nil, nil
}

func (f *fakeStore) checkpointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.checkpoints)
}

func newTestManager(maxTokens int) (*Manager, *fakeStore) {
	cfg := config.Default()
	cfg.Context.MaxTokens = maxTokens
	store := &fakeStore{}
	m := NewManager(cfg, nil, Deps{
		Episodic:    store,
		Checkpoints: store,
		Archive:     store,
	}, nil)
	return m, store
}

func TestRecordAccountsBudget(t *testing.T) {
	m, _ := newTestManager(1000)
	ctx := context.Background()

	m.Record(ctx, Operation{Type: OpNote, Payload: "x", Tokens: 120})
	m.Record(ctx, Operation{Type: OpNote, Payload: "y", Tokens: 80})

	st := m.Status()
	assert.Equal(t, 200, st.TokensUsed)
	assert.Equal(t, 1000, st.TokensMax)
	assert.Equal(t, ZoneGreen, st.Zone)
}

func TestRecordEstimatesTokensWhenUnset(t *testing.T) {
	m, _ := newTestManager(1000)

	m.Record(context.Background(), Operation{Type: OpNote, Payload: strings.Repeat("a", 400)})
	assert.Equal(t, 100, m.Status().TokensUsed)
}

func TestRedZoneForcesCheckpointBeforeBuild(t *testing.T) {
	m, store := newTestManager(1000)
	ctx := context.Background()

	m.Record(ctx, Operation{Type: OpNote, Payload: "heavy work", Tokens: 900})
	require.Equal(t, ZoneRed, m.Zone())

	_, err := m.BuildContext(ctx, "execution", 500)
	require.NoError(t, err)

	require.Equal(t, 1, store.checkpointCount())
	assert.Equal(t, TriggerRed, store.checkpoints[0].Trigger)
	assert.Equal(t, 900, store.checkpoints[0].TokensUsed)

	// The checkpoint established a fresh budget.
	assert.Equal(t, 0, m.Status().TokensUsed)
	assert.Equal(t, ZoneGreen, m.Zone())
}

func TestOrangeZoneCheckpointsOncePerCrossing(t *testing.T) {
	m, store := newTestManager(1000)
	ctx := context.Background()

	m.Record(ctx, Operation{Type: OpNote, Payload: "step", Tokens: 750})
	trigger, due := m.ShouldCheckpoint()
	require.True(t, due)
	assert.Equal(t, TriggerOrange, trigger)

	_, err := m.Checkpoint(ctx, trigger, ResumeHints{})
	require.NoError(t, err)
	require.Equal(t, 1, store.checkpointCount())

	_, due = m.ShouldCheckpoint()
	assert.False(t, due)

	// A second crossing fires again.
	m.Record(ctx, Operation{Type: OpNote, Payload: "more", Tokens: 750})
	trigger, due = m.ShouldCheckpoint()
	require.True(t, due)
	assert.Equal(t, TriggerOrange, trigger)
}

func TestTimeElapsedTrigger(t *testing.T) {
	m, _ := newTestManager(100_000)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.lastCheckpoint = base

	_, due := m.ShouldCheckpoint()
	require.False(t, due)

	m.now = func() time.Time { return base.Add(5 * time.Hour) }
	trigger, due := m.ShouldCheckpoint()
	require.True(t, due)
	assert.Equal(t, TriggerTime, trigger)
}

func TestCheckpointIntegratesSessionIntoProjectState(t *testing.T) {
	m, store := newTestManager(100_000)
	ctx := context.Background()

	m.Record(ctx, Operation{Type: OpDecision, Payload: "decision: split the importer into two passes"})
	m.Record(ctx, Operation{Type: OpNote, Payload: "ran the importer against staging data"})

	cp, err := m.Checkpoint(ctx, TriggerManual, ResumeHints{
		NextTask: "task-7",
		Warnings: []string{"staging data is two weeks stale"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, TriggerManual, cp.Trigger)
	assert.Equal(t, "task-7", cp.Resume.NextTask)

	state := m.Episodic(ProjectState)
	require.NotNil(t, state)
	assert.Contains(t, state.Content, "split the importer")

	// The new project state version was persisted and archived.
	require.NotEmpty(t, store.episodic)
	assert.Contains(t, store.indexed, fmt.Sprintf("%s:%d", ProjectState, state.Version))

	// References point at current episodic versions.
	require.NotEmpty(t, cp.References)
	assert.Equal(t, string(ProjectState), cp.References[0].Key)

	// Working and session tiers were flushed.
	assert.Equal(t, 0, m.working.Len())
	assert.Empty(t, strings.TrimSpace(m.session.Render()))
}

func TestBuildContextHonorsPhaseAndBudget(t *testing.T) {
	m, _ := newTestManager(100_000)
	ctx := context.Background()

	require.NoError(t, m.UpdateEpisodic(ctx, ProjectState, "the system is a two-service deployment"))
	require.NoError(t, m.UpdateEpisodic(ctx, WorkPlan, "next up is the billing reconciliation job"))
	for i := 0; i < 5; i++ {
		m.Record(ctx, Operation{Type: OpNote, Payload: fmt.Sprintf("recent action %d", i)})
	}

	out, err := m.BuildContext(ctx, "execution", 2000)
	require.NoError(t, err)

	assert.Contains(t, out, "## Project Memory")
	assert.Contains(t, out, "two-service deployment")
	assert.Contains(t, out, "## Recent Operations")
	assert.Contains(t, out, "recent action 4")
	assert.LessOrEqual(t, EstimateTokens(out), 2000)
}

func TestBuildContextUnknownPhaseFallsBack(t *testing.T) {
	m, _ := newTestManager(100_000)
	ctx := context.Background()

	m.Record(ctx, Operation{Type: OpNote, Payload: "only operation"})

	out, err := m.BuildContext(ctx, "no-such-phase", 1000)
	require.NoError(t, err)
	assert.Contains(t, out, "only operation")
}

func TestBuildContextAlwaysIncludesNewestOperation(t *testing.T) {
	m, _ := newTestManager(100_000)
	ctx := context.Background()

	m.Record(ctx, Operation{Type: OpNote, Payload: strings.Repeat("bulk ", 500)})
	m.Record(ctx, Operation{Type: OpMilestone, Payload: "latest milestone reached"})

	// Tiny budget: older bulk cannot fit, the newest operation must.
	out, err := m.BuildContext(ctx, "execution", 60)
	require.NoError(t, err)
	assert.Contains(t, out, "latest milestone reached")
}

func TestSessionAutoCompressOnOverflow(t *testing.T) {
	cfg := config.Default()
	cfg.Context.MaxTokens = 1_000_000
	cfg.Context.WorkingCapacity = 2
	cfg.Context.SessionCompressAt = 200
	store := &fakeStore{}
	m := NewManager(cfg, nil, Deps{Episodic: store, Checkpoints: store}, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		m.Record(ctx, Operation{Type: OpNote, Payload: strings.Repeat(fmt.Sprintf("line %d ", i), 20)})
	}

	// Eviction into the session happened and compression kept it bounded.
	assert.Greater(t, m.session.Tokens(), 0)
	assert.Less(t, m.session.Tokens(), 20*40)
}

func TestQueryArchiveWithoutArchive(t *testing.T) {
	cfg := config.Default()
	m := NewManager(cfg, nil, Deps{}, nil)

	hits, err := m.QueryArchive(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Nil(t, hits)
}
