package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/agent"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/retry"
)

// confidenceCriteria is the rubric handed to the model-based estimator.
const confidenceCriteria = "correctness completeness consistency"

// Aggregator combines a fast heuristic estimate with a model-based
// estimate into one confidence value. The blend is a weighted average:
//
//	confidence = w*heuristic + (1-w)*model
//
// with w configurable (HeuristicWeight).
type Aggregator struct {
	worker          agent.Worker
	heuristicWeight float64
}

// NewAggregator creates a confidence aggregator.
func NewAggregator(worker agent.Worker, heuristicWeight float64) *Aggregator {
	return &Aggregator{worker: worker, heuristicWeight: heuristicWeight}
}

// Confidence computes the blended confidence for a response given its
// quality assessment. Worker failures are transient infrastructure
// errors, not content defects.
func (a *Aggregator) Confidence(ctx context.Context, response string, quality *QualityAssessment) (*ConfidenceScore, error) {
	heuristic := heuristicEstimate(response, quality)

	model, _, err := a.worker.Score(ctx, response, confidenceCriteria)
	if err != nil {
		return nil, retry.MarkTransient(fmt.Errorf("confidence scoring: %w", err))
	}

	value := a.heuristicWeight*heuristic + (1-a.heuristicWeight)*model
	return &ConfidenceScore{
		Value:           clamp01(value),
		Heuristic:       heuristic,
		ModelBased:      model,
		HeuristicWeight: a.heuristicWeight,
	}, nil
}

// heuristicEstimate is the cheap local sub-score: it starts from the
// quality score and discounts for every issue found and for suspiciously
// short responses.
func heuristicEstimate(response string, quality *QualityAssessment) float64 {
	estimate := quality.Score

	estimate -= 0.05 * float64(len(quality.Issues))

	if len(strings.TrimSpace(response)) < 80 {
		estimate -= 0.2
	}

	return clamp01(estimate)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
