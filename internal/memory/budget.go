package memory

import "sync"

// Zone is the budget pressure band derived from token usage.
type Zone int

const (
	ZoneGreen Zone = iota
	ZoneYellow
	ZoneOrange
	ZoneRed
	ZoneEmergency
)

func (z Zone) String() string {
	switch z {
	case ZoneGreen:
		return "green"
	case ZoneYellow:
		return "yellow"
	case ZoneOrange:
		return "orange"
	case ZoneRed:
		return "red"
	case ZoneEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Action is the behavior a zone recommends to the loop.
func (z Zone) Action() string {
	switch z {
	case ZoneGreen:
		return "normal operation"
	case ZoneYellow:
		return "prefer compressed context"
	case ZoneOrange:
		return "checkpoint opportunistically"
	case ZoneRed:
		return "checkpoint before next dispatch"
	case ZoneEmergency:
		return "halt dispatch until checkpoint completes"
	default:
		return ""
	}
}

// budgetTracker accounts token usage against the context window and
// maps the running fraction onto zones.
type budgetTracker struct {
	mu        sync.Mutex
	max       int
	used      int
	yellow    float64
	orange    float64
	red       float64
	emergency float64
}

func newBudgetTracker(max int, yellow, orange, red, emergency float64) *budgetTracker {
	if max <= 0 {
		max = 200_000
	}
	return &budgetTracker{
		max:       max,
		yellow:    yellow,
		orange:    orange,
		red:       red,
		emergency: emergency,
	}
}

func (b *budgetTracker) Consume(tokens int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used += tokens
	if b.used < 0 {
		b.used = 0
	}
}

func (b *budgetTracker) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func (b *budgetTracker) Max() int {
	return b.max
}

func (b *budgetTracker) Fraction() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.used) / float64(b.max)
}

func (b *budgetTracker) Zone() Zone {
	frac := b.Fraction()
	switch {
	case frac >= b.emergency:
		return ZoneEmergency
	case frac >= b.red:
		return ZoneRed
	case frac >= b.orange:
		return ZoneOrange
	case frac >= b.yellow:
		return ZoneYellow
	default:
		return ZoneGreen
	}
}

// Reset zeroes usage after a checkpoint establishes a fresh context.
func (b *budgetTracker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
}
