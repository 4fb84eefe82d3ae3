package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(t OperationType, payload string) Operation {
	return Operation{Type: t, Payload: payload, Timestamp: time.Now()}
}

func TestWorkingTierEvictsOldestFirst(t *testing.T) {
	w := newWorkingTier(3, 100_000)

	var evicted []Operation
	for i := 0; i < 5; i++ {
		evicted = append(evicted, w.Record(op(OpNote, fmt.Sprintf("note %d", i)))...)
	}

	require.Len(t, evicted, 2)
	assert.Equal(t, "note 0", evicted[0].Payload)
	assert.Equal(t, "note 1", evicted[1].Payload)

	recent := w.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "note 2", recent[0].Payload)
	assert.Equal(t, "note 4", recent[2].Payload)
}

func TestWorkingTierTokenCap(t *testing.T) {
	w := newWorkingTier(100, 50)

	big := strings.Repeat("x", 120) // 30 tokens each
	w.Record(op(OpNote, big))
	evicted := w.Record(op(OpNote, big))

	require.Len(t, evicted, 1)
	assert.Equal(t, 1, w.Len())
	assert.LessOrEqual(t, w.Tokens(), 50)
}

func TestWorkingTierDrain(t *testing.T) {
	w := newWorkingTier(10, 10_000)
	w.Record(op(OpNote, "a"))
	w.Record(op(OpDecision, "b"))

	drained := w.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].Payload)
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 0, w.Tokens())
}

func TestBudgetTrackerZones(t *testing.T) {
	b := newBudgetTracker(1000, 0.50, 0.70, 0.85, 0.95)

	tests := []struct {
		used int
		want Zone
	}{
		{0, ZoneGreen},
		{499, ZoneGreen},
		{500, ZoneYellow},
		{699, ZoneYellow},
		{700, ZoneOrange},
		{849, ZoneOrange},
		{850, ZoneRed},
		{949, ZoneRed},
		{950, ZoneEmergency},
		{1200, ZoneEmergency},
	}
	for _, tt := range tests {
		b.Reset()
		b.Consume(tt.used)
		assert.Equal(t, tt.want, b.Zone(), "used=%d", tt.used)
	}
}

func TestBudgetTrackerResetAndActions(t *testing.T) {
	b := newBudgetTracker(1000, 0.50, 0.70, 0.85, 0.95)
	b.Consume(900)
	require.Equal(t, ZoneRed, b.Zone())

	b.Reset()
	assert.Equal(t, 0, b.Used())
	assert.Equal(t, ZoneGreen, b.Zone())

	assert.NotEmpty(t, ZoneRed.Action())
	assert.NotEqual(t, ZoneGreen.Action(), ZoneRed.Action())
}

func TestCompressorPreservesCriticalVerbatim(t *testing.T) {
	c := newCompressor(nil, nil)

	critical := []string{
		"decision: chose streaming parser over batch",
		"error: migration 007 failed on unique constraint",
		"milestone: auth service passing integration tests",
	}
	var ops []Operation
	for _, payload := range critical {
		ops = append(ops, op(OpDecision, payload))
	}
	for i := 0; i < 10; i++ {
		ops = append(ops, op(OpNote, strings.Repeat(fmt.Sprintf("routine detail %d ", i), 20)))
	}

	original := operationTokensForTest(ops)
	target := int(float64(original) * 0.7)

	out := c.CompressOperations(context.Background(), ops, target)

	for _, payload := range critical {
		assert.Contains(t, out, payload)
	}
	assert.LessOrEqual(t, EstimateTokens(out), target)
}

func operationTokensForTest(ops []Operation) int {
	total := 0
	for i := range ops {
		if ops[i].Tokens == 0 {
			ops[i].Tokens = EstimateTokens(ops[i].Payload)
		}
		total += ops[i].Tokens
	}
	return total
}

func TestCompressTextPassThroughWhenSmall(t *testing.T) {
	c := newCompressor(nil, nil)
	text := "short enough"
	assert.Equal(t, text, c.CompressText(context.Background(), text, 100))
}

func TestTruncateToTokensWordBoundary(t *testing.T) {
	text := strings.Repeat("alpha beta gamma ", 100)
	out := truncateToTokens(text, 20)

	assert.LessOrEqual(t, len(out), 20*4+len(" [truncated]"))
	assert.True(t, strings.HasSuffix(out, " [truncated]"))
}

func TestSessionCompressKeepsRecentTailVerbatim(t *testing.T) {
	s := newSessionTier()
	c := newCompressor(nil, nil)

	for i := 0; i < 10; i++ {
		s.Append(op(OpNote, fmt.Sprintf("entry number %d with some padding text around it", i)))
	}
	before := s.Tokens()

	s.Compress(context.Background(), c, 0.5)

	// The newer half survives verbatim.
	rendered := s.Render()
	for i := 5; i < 10; i++ {
		assert.Contains(t, rendered, fmt.Sprintf("entry number %d", i))
	}
	assert.Less(t, s.Tokens(), before)
}

func TestSessionCompressPreservesCritical(t *testing.T) {
	s := newSessionTier()
	c := newCompressor(nil, nil)

	s.Append(op(OpError, "error: dispatch timed out on task t-4"))
	for i := 0; i < 9; i++ {
		s.Append(op(OpNote, strings.Repeat(fmt.Sprintf("filler %d ", i), 30)))
	}

	s.Compress(context.Background(), c, 0.3)
	assert.Contains(t, s.Render(), "error: dispatch timed out on task t-4")
}

func TestSessionResetReturnsContent(t *testing.T) {
	s := newSessionTier()
	s.Append(op(OpNote, "something happened"))

	content := s.Reset()
	assert.Contains(t, content, "something happened")
	assert.Equal(t, 0, s.Tokens())
	assert.Empty(t, strings.TrimSpace(s.Render()))
}

func TestEpisodicTierVersioning(t *testing.T) {
	e := newEpisodicTier(5, nil)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		doc, err := e.Update(ctx, WorkPlan, fmt.Sprintf("plan revision %d", i))
		require.NoError(t, err)
		assert.Equal(t, i, doc.Version)
	}

	current := e.Get(WorkPlan)
	require.NotNil(t, current)
	assert.Equal(t, 7, current.Version)
	assert.Equal(t, "plan revision 7", current.Content)

	snaps := e.Snapshots(WorkPlan)
	require.Len(t, snaps, 5)
	assert.Equal(t, 2, snaps[0].Version)
	assert.Equal(t, 6, snaps[4].Version)
}

func TestEpisodicTierRefs(t *testing.T) {
	e := newEpisodicTier(5, nil)
	ctx := context.Background()

	_, err := e.Update(ctx, ProjectState, "state")
	require.NoError(t, err)
	_, err = e.Update(ctx, DecisionLog, "log")
	require.NoError(t, err)

	refs := e.Refs()
	require.Len(t, refs, 2)
	assert.Equal(t, string(ProjectState), refs[0].Key)
	assert.Equal(t, string(DecisionLog), refs[1].Key)
}
