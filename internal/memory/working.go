package memory

import (
	"sync"
	"time"
)

// workingTier is the bounded in-flight operation buffer. It holds the
// most recent operations verbatim, capped both by count and by token
// weight; eviction is strictly oldest-first.
type workingTier struct {
	mu       sync.Mutex
	ops      []Operation
	tokens   int
	capCount int
	capTok   int
}

func newWorkingTier(capCount, capTokens int) *workingTier {
	if capCount <= 0 {
		capCount = 50
	}
	if capTokens <= 0 {
		capTokens = 8000
	}
	return &workingTier{capCount: capCount, capTok: capTokens}
}

// Record appends an operation and returns any operations evicted to
// make room, oldest first. Evictions feed the session tier.
func (w *workingTier) Record(op Operation) []Operation {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	if op.Tokens == 0 {
		op.Tokens = EstimateTokens(op.Payload)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.ops = append(w.ops, op)
	w.tokens += op.Tokens

	var evicted []Operation
	for len(w.ops) > w.capCount || (w.tokens > w.capTok && len(w.ops) > 1) {
		head := w.ops[0]
		w.ops = w.ops[1:]
		w.tokens -= head.Tokens
		evicted = append(evicted, head)
	}
	return evicted
}

// Recent returns up to limit operations, newest last. limit <= 0 means
// everything currently held.
func (w *workingTier) Recent(limit int) []Operation {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.ops)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Operation, n)
	copy(out, w.ops[len(w.ops)-n:])
	return out
}

// Drain removes and returns everything, oldest first. Used when a
// checkpoint flushes working history into the session document.
func (w *workingTier) Drain() []Operation {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.ops
	w.ops = nil
	w.tokens = 0
	return out
}

func (w *workingTier) Tokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tokens
}

func (w *workingTier) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ops)
}
