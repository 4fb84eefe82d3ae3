package decision

import (
	"context"
	"time"
)

// Outcome is one of the four possible decision results per iteration.
type Outcome string

const (
	Proceed             Outcome = "proceed"
	Retry               Outcome = "retry"
	ClarificationNeeded Outcome = "clarification_needed"
	Escalate            Outcome = "escalate"
)

// ValidationResult is the format-completeness check over an agent
// response. Produced once per response, immutable.
type ValidationResult struct {
	Complete      bool
	MissingFields []string
}

// QualityAssessment rates a response's content. Produced at most once
// per (task, iteration) pair.
type QualityAssessment struct {
	Score       float64 // in [0,1]
	Issues      []string
	Suggestions []string
}

// ConfidenceScore blends a heuristic and a model-based sub-score. It is
// derived; it is only persisted as part of the Decision it informs.
type ConfidenceScore struct {
	Value           float64 // in [0,1]
	Heuristic       float64
	ModelBased      float64
	HeuristicWeight float64
}

// Decision is one entry in a task's append-only decision log. The
// current decision is the most recent entry; entries are never
// overwritten.
type Decision struct {
	ID        string
	TaskID    string
	Iteration int
	Outcome   Outcome

	// Reasoning inputs.
	Quality    float64
	Confidence float64
	RetryCount int
	Issues     []string
	Reason     string

	// Warned marks a Proceed issued in the low-certainty band.
	Warned bool
	// CountsAgainstBudget is false for the free first malformed-response
	// retry; such retries are cheap and distinguished from substantive
	// failures.
	CountsAgainstBudget bool

	CreatedAt time.Time
}

// Recorder receives decisions for the append-only per-task log.
type Recorder interface {
	AppendDecision(ctx context.Context, d *Decision) error
}
