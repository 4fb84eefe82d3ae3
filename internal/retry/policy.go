// Package retry implements backoff policy for transient infrastructure
// failures. It is pure policy: given an error class and attempt count it
// answers "retry after how long" or "give up".
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Class is the infrastructure-failure classification. It decides whether
// a retry is attempted at all.
type Class int

const (
	// Transient covers network timeouts, rate limits, and temporary
	// unavailability. Retried with backoff.
	Transient Class = iota
	// Permanent covers validation, schema, and authorization failures.
	// Never retried.
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Action is the outcome of a NextAction call.
type Action struct {
	// Retry is false when the caller should give up.
	Retry bool
	// Delay is how long to wait before the next attempt (zero on GiveUp).
	Delay time.Duration
}

// Config configures the backoff policy.
type Config struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	MaxAttempts    int
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		BaseDelay:      time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
		MaxAttempts:    5,
	}
}

// Policy computes retry actions. Safe for concurrent use only when the
// random source is; the default source is the global one.
type Policy struct {
	config Config

	// unit returns a uniform value in [0,1). Injectable for tests.
	unit func() float64
}

// NewPolicy creates a policy from config, falling back to defaults for
// zero fields.
func NewPolicy(cfg Config) *Policy {
	defaults := DefaultConfig()
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	return &Policy{config: cfg, unit: rand.Float64}
}

// NextAction returns the action for the given error class and zero-based
// attempt count. Permanent always gives up immediately.
func (p *Policy) NextAction(class Class, attempt int) Action {
	if class == Permanent {
		return Action{Retry: false}
	}
	if attempt >= p.config.MaxAttempts {
		return Action{Retry: false}
	}
	return Action{Retry: true, Delay: p.delay(attempt)}
}

// delay computes base * multiplier^attempt capped at MaxDelay, with
// uniform jitter of +/- JitterFraction. Jittered values never drop below
// zero and never exceed MaxDelay * (1 + JitterFraction); this spreads
// concurrent retries so they do not synchronize.
func (p *Policy) delay(attempt int) time.Duration {
	base := float64(p.config.BaseDelay) * math.Pow(p.config.Multiplier, float64(attempt))
	if capped := float64(p.config.MaxDelay); base > capped {
		base = capped
	}

	if p.config.JitterFraction > 0 {
		// Uniform in [-jitter, +jitter].
		offset := (p.unit()*2 - 1) * p.config.JitterFraction
		base *= 1 + offset
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}
