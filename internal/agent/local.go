package agent

import (
	"context"
	"strings"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
)

// LocalWorker is a model-free Worker backed by lexical heuristics. It is
// the fallback backend when no reasoning service is configured, and the
// summarizer of last resort when the configured one is down.
type LocalWorker struct {
	logger *logging.Logger
}

// NewLocalWorker creates a heuristic worker.
func NewLocalWorker(_ *config.Config, logger *logging.Logger) (Worker, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LocalWorker{logger: logger.Named("local-worker")}, nil
}

// Score rates text by coverage of the criteria terms. Crude, but cheap
// and deterministic.
func (w *LocalWorker) Score(_ context.Context, responseText, criteria string) (float64, []string, error) {
	if strings.TrimSpace(responseText) == "" {
		return 0, []string{"empty response"}, nil
	}

	terms := strings.Fields(strings.ToLower(criteria))
	if len(terms) == 0 {
		return 0.5, nil, nil
	}

	lower := strings.ToLower(responseText)
	var hit int
	var issues []string
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hit++
		} else {
			issues = append(issues, "criteria term not addressed: "+term)
		}
	}
	return float64(hit) / float64(len(terms)), issues, nil
}

// Summarize performs hard truncation on word boundaries. Roughly four
// characters per token, matching the estimate used across the memory
// tiers.
func (w *LocalWorker) Summarize(_ context.Context, text string, targetTokens int) (string, error) {
	maxChars := targetTokens * 4
	if len(text) <= maxChars {
		return text, nil
	}
	cut := text[:maxChars]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + " [truncated]", nil
}

// HealthCheck always succeeds: there is nothing remote to fail.
func (w *LocalWorker) HealthCheck(context.Context) error { return nil }
