package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/agent"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
)

// compressor reduces recorded history to a token target while keeping
// critical operations verbatim. Summarization is delegated to a worker
// agent; when the worker is unavailable the compressor falls back to
// hard truncation so compression itself can never fail.
type compressor struct {
	worker agent.Worker
	logger *logging.Logger
}

func newCompressor(worker agent.Worker, logger *logging.Logger) *compressor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &compressor{worker: worker, logger: logger}
}

// CompressOperations renders ops into at most targetTokens of text.
// Critical operations are kept verbatim regardless of budget; the
// remainder is summarized oldest-first until the result fits.
func (c *compressor) CompressOperations(ctx context.Context, ops []Operation, targetTokens int) string {
	var critical, routine []Operation
	for _, op := range ops {
		if op.IsCritical() {
			critical = append(critical, op)
		} else {
			routine = append(routine, op)
		}
	}

	var sb strings.Builder
	for _, op := range critical {
		sb.WriteString(renderOperation(op))
		sb.WriteByte('\n')
	}
	remaining := targetTokens - EstimateTokens(sb.String())

	if len(routine) == 0 {
		return sb.String()
	}
	if remaining <= 0 {
		// Critical content alone exceeds the target; it still ships
		// verbatim and the routine tail is dropped entirely.
		c.logger.Warn(ctx, "critical operations exceed compression target",
			zap.Int("target_tokens", targetTokens),
			zap.Int("critical_count", len(critical)))
		return sb.String()
	}

	routineText := renderOperations(routine)
	if EstimateTokens(routineText) <= remaining {
		sb.WriteString(routineText)
		return sb.String()
	}

	sb.WriteString(c.CompressText(ctx, routineText, remaining))
	return sb.String()
}

// CompressText summarizes text down to targetTokens, truncating as a
// last resort.
func (c *compressor) CompressText(ctx context.Context, text string, targetTokens int) string {
	if EstimateTokens(text) <= targetTokens {
		return text
	}
	if c.worker != nil {
		summary, err := c.worker.Summarize(ctx, text, targetTokens)
		if err == nil && EstimateTokens(summary) <= targetTokens {
			return summary
		}
		if err != nil {
			c.logger.Warn(ctx, "summarize worker failed, falling back to truncation",
				zap.Error(err))
		}
	}
	return truncateToTokens(text, targetTokens)
}

func renderOperations(ops []Operation) string {
	var sb strings.Builder
	for _, op := range ops {
		sb.WriteString(renderOperation(op))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func renderOperation(op Operation) string {
	return fmt.Sprintf("[%s %s] %s", op.Timestamp.Format("15:04:05"), op.Type, op.Payload)
}

// truncateToTokens cuts text at a word boundary near the token target.
func truncateToTokens(text string, targetTokens int) string {
	if targetTokens <= 0 {
		return ""
	}
	if len(text) <= targetTokens*4 {
		return text
	}
	limit := targetTokens*4 - len(" [truncated]")
	if limit <= 0 {
		return ""
	}
	cut := text[:limit]
	if idx := strings.LastIndexByte(cut, ' '); idx > limit/2 {
		cut = cut[:idx]
	}
	return cut + " [truncated]"
}
