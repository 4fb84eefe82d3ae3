package memory

import "time"

// OperationType labels a recorded operation.
type OperationType string

const (
	OpDispatch   OperationType = "dispatch"
	OpDecision   OperationType = "decision"
	OpError      OperationType = "error"
	OpMilestone  OperationType = "milestone"
	OpNote       OperationType = "note"
	OpInjected   OperationType = "injected"
	OpCheckpoint OperationType = "checkpoint"
)

// Critical reports whether operations of this type must survive
// compression verbatim: decisions, errors, and milestone completions
// are never summarized away.
func (t OperationType) Critical() bool {
	return t == OpDecision || t == OpError || t == OpMilestone
}

// Operation is one unit of recorded history in the working tier.
type Operation struct {
	Type      OperationType
	Payload   string
	Timestamp time.Time
	// Tokens is the token cost. Zero means "estimate at record time".
	Tokens int
	// Critical can force preservation for operations whose type alone
	// does not imply it.
	Critical bool
}

// IsCritical combines the explicit flag with the type default.
func (o *Operation) IsCritical() bool {
	return o.Critical || o.Type.Critical()
}

// EpisodicKind identifies one of the long-lived documents.
type EpisodicKind string

const (
	ProjectState EpisodicKind = "project_state"
	WorkPlan     EpisodicKind = "work_plan"
	DecisionLog  EpisodicKind = "decision_log"
)

// EpisodicKinds lists all episodic documents in a stable order.
var EpisodicKinds = []EpisodicKind{ProjectState, WorkPlan, DecisionLog}

// EpisodicDocument is one versioned long-lived document. Compression
// replaces the content with a new version; prior versions are retained
// as immutable snapshots up to the configured depth.
type EpisodicDocument struct {
	Kind      EpisodicKind
	Version   int
	Content   string
	Tokens    int
	UpdatedAt time.Time
}

// Trigger is the reason a checkpoint fired.
type Trigger string

const (
	TriggerOrange Trigger = "threshold-70"
	TriggerRed    Trigger = "threshold-85"
	TriggerTime   Trigger = "time-elapsed"
	TriggerManual Trigger = "manual"
)

// ResumeHints carries the loop's knowledge of what comes next into the
// checkpoint's resume instructions.
type ResumeHints struct {
	NextTask string
	Blockers []string
	Warnings []string
}

// Checkpoint is a durable snapshot-and-reset record. Read-only once
// created; superseded, never mutated.
type Checkpoint struct {
	ID         string
	CreatedAt  time.Time
	Trigger    Trigger
	TokensUsed int

	// References point at the artifacts needed to resume; contents are
	// not copied into the checkpoint.
	References []ArtifactRef

	Resume ResumeHints
}

// ArtifactRef is a pointer to a stored artifact.
type ArtifactRef struct {
	Kind    string
	Key     string
	Version int
}

// EstimateTokens approximates token cost at ~4 characters per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}
