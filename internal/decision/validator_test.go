package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_CompleteResponse(t *testing.T) {
	v := NewValidator(nil)

	result := v.Validate("Summary: done\nChanges: one file\nVerification: tests pass")
	assert.True(t, result.Complete)
	assert.Empty(t, result.MissingFields)
}

func TestValidator_MarkdownHeadings(t *testing.T) {
	v := NewValidator(nil)

	result := v.Validate("## Summary\nall good\n## Changes\nfoo.go\n### Verification\nok")
	assert.True(t, result.Complete)
}

func TestValidator_MissingFields(t *testing.T) {
	v := NewValidator(nil)

	result := v.Validate("summary: partial work only")
	assert.False(t, result.Complete)
	assert.Equal(t, []string{"changes", "verification"}, result.MissingFields)
}

func TestValidator_EmptyResponse(t *testing.T) {
	v := NewValidator([]string{"plan", "result"})

	result := v.Validate("   \n ")
	assert.False(t, result.Complete)
	assert.Equal(t, []string{"plan", "result"}, result.MissingFields)
}

func TestAggregator_BlendRule(t *testing.T) {
	w := &scriptedWorker{confidence: 0.5}
	a := NewAggregator(w, 0.4)

	quality := &QualityAssessment{Score: 1.0}
	score, err := a.Confidence(context.Background(), wellFormed, quality)
	require.NoError(t, err)

	// 0.4*1.0 + 0.6*0.5 = 0.7
	assert.InDelta(t, 0.7, score.Value, 1e-9)
	assert.Equal(t, 1.0, score.Heuristic)
	assert.Equal(t, 0.5, score.ModelBased)
	assert.Equal(t, 0.4, score.HeuristicWeight)
}

func TestHeuristicEstimate_DiscountsIssuesAndShortResponses(t *testing.T) {
	quality := &QualityAssessment{Score: 0.9, Issues: []string{"a", "b"}}
	// Long response: only the issue discount applies.
	long := wellFormed + wellFormed
	assert.InDelta(t, 0.8, heuristicEstimate(long, quality), 1e-9)

	// Short response gets a further discount.
	assert.InDelta(t, 0.6, heuristicEstimate("ok", quality), 1e-9)

	// Never below zero.
	bad := &QualityAssessment{Score: 0.1, Issues: []string{"a", "b", "c", "d", "e"}}
	assert.GreaterOrEqual(t, heuristicEstimate("x", bad), 0.0)
}
