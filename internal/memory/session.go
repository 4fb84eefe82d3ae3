package memory

import (
	"context"
	"strings"
	"sync"
)

// sessionTier is the append-only document for the current run. It
// receives operations evicted from the working tier and grows until it
// crosses the compression threshold, at which point the older portion
// is summarized in place. The recent tail and all critical operations
// stay verbatim.
type sessionTier struct {
	mu sync.Mutex
	// summary holds already-compressed history.
	summary string
	// ops is the uncompressed tail, oldest first.
	ops    []Operation
	tokens int
}

func newSessionTier() *sessionTier {
	return &sessionTier{}
}

func (s *sessionTier) Append(ops ...Operation) {
	if len(ops) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		if op.Tokens == 0 {
			op.Tokens = EstimateTokens(op.Payload)
		}
		s.ops = append(s.ops, op)
		s.tokens += op.Tokens
	}
}

func (s *sessionTier) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens + EstimateTokens(s.summary)
}

// Compress summarizes the older half of the uncompressed tail down to
// ratio of its size, folding the result into the running summary.
// Critical operations in the compressed span are preserved verbatim.
func (s *sessionTier) Compress(ctx context.Context, c *compressor, ratio float64) {
	s.mu.Lock()
	if len(s.ops) < 2 {
		s.mu.Unlock()
		return
	}
	split := len(s.ops) / 2
	older := s.ops[:split]
	s.mu.Unlock()

	target := int(float64(operationTokens(older)) * ratio)
	compacted := c.CompressOperations(ctx, older, target)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary != "" {
		s.summary += "\n"
	}
	s.summary += compacted
	s.ops = append([]Operation(nil), s.ops[split:]...)
	s.tokens = operationTokens(s.ops)
}

// Render returns the full session content: compressed history first,
// uncompressed tail after.
func (s *sessionTier) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	if s.summary != "" {
		sb.WriteString(s.summary)
		if !strings.HasSuffix(s.summary, "\n") {
			sb.WriteByte('\n')
		}
	}
	for _, op := range s.ops {
		sb.WriteString(renderOperation(op))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Reset clears the session and returns the content it held, for
// integration into the episodic tier at checkpoint time.
func (s *sessionTier) Reset() string {
	content := s.Render()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = ""
	s.ops = nil
	s.tokens = 0
	return content
}

func operationTokens(ops []Operation) int {
	total := 0
	for _, op := range ops {
		total += op.Tokens
	}
	return total
}
