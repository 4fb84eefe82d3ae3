// Package agent defines the boundary interfaces for the external workers
// the orchestrator drives: the remote code-generation agent and the local
// reasoning worker used for scoring and summarization.
package agent

import (
	"context"
	"errors"
)

// Boundary errors. Both are transient infrastructure failures per the
// dispatch contract.
var (
	// ErrAgentUnavailable indicates the remote agent could not be reached.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrAgentTimeout indicates the dispatch hard timeout elapsed.
	ErrAgentTimeout = errors.New("agent timeout")
)

// Agent is the remote code-generation worker. Invoke is a single opaque,
// long-running call; once started it is treated as uninterruptible except
// through ctx cancellation.
type Agent interface {
	// Invoke sends an assembled prompt context and returns the raw
	// response text.
	Invoke(ctx context.Context, promptContext string) (string, error)
}

// Worker is the local reasoning service used for quality scoring,
// confidence estimation, and summarization. Failures are transient.
type Worker interface {
	// Score rates responseText against criteria, returning a value in
	// [0,1] and a list of issues found.
	Score(ctx context.Context, responseText, criteria string) (float64, []string, error)

	// Summarize reduces text to approximately targetTokens tokens.
	Summarize(ctx context.Context, text string, targetTokens int) (string, error)
}

// HealthChecker is optionally implemented by backends that can report
// availability before the loop starts dispatching.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
