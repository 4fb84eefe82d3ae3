// Package config provides configuration loading for orchd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the orchestrator.
type Config struct {
	Context  ContextConfig  `koanf:"context"`
	Decision DecisionConfig `koanf:"decision"`
	Retry    RetryConfig    `koanf:"retry"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Store    StoreConfig    `koanf:"store"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ContextConfig controls the memory manager's token budget and tiers.
type ContextConfig struct {
	// MaxTokens is the backing model's context window. Not hardcoded:
	// must accommodate anything from 100K to 1M+ token models.
	MaxTokens int `koanf:"max_tokens"`

	// Zone thresholds as fractions of MaxTokens. The 50/70/85/95 scheme
	// is the canonical default; all four are overridable.
	YellowThreshold    float64 `koanf:"yellow_threshold"`
	OrangeThreshold    float64 `koanf:"orange_threshold"`
	RedThreshold       float64 `koanf:"red_threshold"`
	EmergencyThreshold float64 `koanf:"emergency_threshold"`

	// WorkingCapacity is the max operation count in the working ring.
	WorkingCapacity int `koanf:"working_capacity"`
	// WorkingTokenCap bounds the working ring by tokens (~5-10K typical).
	WorkingTokenCap int `koanf:"working_token_cap"`

	// SessionCompressAt triggers session auto-compression (tokens).
	SessionCompressAt int `koanf:"session_compress_at"`
	// CompressionRatio is the minimum reduction for episodic compression
	// (0.7 means the result must be at most 70% of the original).
	CompressionRatio float64 `koanf:"compression_ratio"`
	// EpisodicVersions is how many prior snapshots each episodic
	// document retains before permanent compaction.
	EpisodicVersions int `koanf:"episodic_versions"`

	// CheckpointInterval is the wall-clock checkpoint trigger. Long
	// low-volume sessions still checkpoint on this cadence.
	CheckpointInterval Duration `koanf:"checkpoint_interval"`

	// PhaseAllocations maps a phase name to its Working/Session/Episodic
	// budget split. Fractions per phase must sum to 1.
	PhaseAllocations map[string]PhaseAllocation `koanf:"phase_allocations"`
}

// PhaseAllocation is a per-phase budget split across memory tiers.
type PhaseAllocation struct {
	Working  float64 `koanf:"working"`
	Session  float64 `koanf:"session"`
	Episodic float64 `koanf:"episodic"`
}

// DecisionConfig controls the decision engine thresholds.
type DecisionConfig struct {
	QualityThreshold        float64 `koanf:"quality_threshold"`
	LowConfidenceThreshold  float64 `koanf:"low_confidence_threshold"`
	HighConfidenceThreshold float64 `koanf:"high_confidence_threshold"`
	MaxIterations           int     `koanf:"max_iterations"`
	// HeuristicWeight is the blend weight for the heuristic confidence
	// sub-score; the model sub-score gets 1 - HeuristicWeight.
	HeuristicWeight float64 `koanf:"heuristic_weight"`
}

// RetryConfig controls the backoff policy for transient failures.
type RetryConfig struct {
	BaseDelay      Duration `koanf:"base_delay"`
	MaxDelay       Duration `koanf:"max_delay"`
	Multiplier     float64  `koanf:"multiplier"`
	JitterFraction float64  `koanf:"jitter_fraction"`
	MaxAttempts    int      `koanf:"max_attempts"`
}

// DispatchConfig controls remote agent dispatch.
type DispatchConfig struct {
	// Timeout is the hard cap on a single agent invocation. Code
	// generation runs are long; the default is on the order of hours.
	Timeout Duration `koanf:"timeout"`
	// AgentBackend selects the registered agent constructor.
	AgentBackend string `koanf:"agent_backend"`
	// AgentCommand is the external command line for CLI-backed agents.
	// The prompt context is written to its stdin.
	AgentCommand []string `koanf:"agent_command"`
	// WorkerBackend selects the registered scoring/summarization worker.
	WorkerBackend string `koanf:"worker_backend"`
}

// StoreConfig controls the persistent store.
type StoreConfig struct {
	// Path is the SQLite database path. Empty selects the in-memory store.
	Path string `koanf:"path"`
	// ArchivePath is the episodic archive directory. Empty keeps the
	// archive in memory only.
	ArchivePath string `koanf:"archive_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string            `koanf:"level"`
	Format string            `koanf:"format"`
	Fields map[string]string `koanf:"fields"`
}

// applyDefaults fills zero values with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 200_000
	}
	if cfg.Context.YellowThreshold == 0 {
		cfg.Context.YellowThreshold = 0.50
	}
	if cfg.Context.OrangeThreshold == 0 {
		cfg.Context.OrangeThreshold = 0.70
	}
	if cfg.Context.RedThreshold == 0 {
		cfg.Context.RedThreshold = 0.85
	}
	if cfg.Context.EmergencyThreshold == 0 {
		cfg.Context.EmergencyThreshold = 0.95
	}
	if cfg.Context.WorkingCapacity == 0 {
		cfg.Context.WorkingCapacity = 50
	}
	if cfg.Context.WorkingTokenCap == 0 {
		cfg.Context.WorkingTokenCap = 8_000
	}
	if cfg.Context.SessionCompressAt == 0 {
		cfg.Context.SessionCompressAt = 40_000
	}
	if cfg.Context.CompressionRatio == 0 {
		cfg.Context.CompressionRatio = 0.7
	}
	if cfg.Context.EpisodicVersions == 0 {
		cfg.Context.EpisodicVersions = 5
	}
	if cfg.Context.CheckpointInterval == 0 {
		cfg.Context.CheckpointInterval = Duration(4 * time.Hour)
	}
	if cfg.Context.PhaseAllocations == nil {
		cfg.Context.PhaseAllocations = DefaultPhaseAllocations()
	}

	if cfg.Decision.QualityThreshold == 0 {
		cfg.Decision.QualityThreshold = 0.75
	}
	if cfg.Decision.LowConfidenceThreshold == 0 {
		cfg.Decision.LowConfidenceThreshold = 0.65
	}
	if cfg.Decision.HighConfidenceThreshold == 0 {
		cfg.Decision.HighConfidenceThreshold = 0.85
	}
	if cfg.Decision.MaxIterations == 0 {
		cfg.Decision.MaxIterations = 3
	}
	if cfg.Decision.HeuristicWeight == 0 {
		cfg.Decision.HeuristicWeight = 0.4
	}

	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = Duration(time.Second)
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = Duration(60 * time.Second)
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}
	if cfg.Retry.JitterFraction == 0 {
		cfg.Retry.JitterFraction = 0.2
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}

	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = Duration(2 * time.Hour)
	}
	if cfg.Dispatch.AgentBackend == "" {
		cfg.Dispatch.AgentBackend = "claude-code"
	}
	if len(cfg.Dispatch.AgentCommand) == 0 {
		cfg.Dispatch.AgentCommand = []string{"claude", "-p"}
	}
	if cfg.Dispatch.WorkerBackend == "" {
		cfg.Dispatch.WorkerBackend = "local"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// DefaultPhaseAllocations returns the recommended tier splits per phase.
func DefaultPhaseAllocations() map[string]PhaseAllocation {
	return map[string]PhaseAllocation{
		"planning":   {Working: 0.2, Session: 0.3, Episodic: 0.5},
		"execution":  {Working: 0.5, Session: 0.3, Episodic: 0.2},
		"validation": {Working: 0.4, Session: 0.4, Episodic: 0.2},
	}
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Context.MaxTokens < 1000 {
		return fmt.Errorf("context.max_tokens must be >= 1000, got %d", c.Context.MaxTokens)
	}
	thresholds := []struct {
		name  string
		value float64
	}{
		{"yellow_threshold", c.Context.YellowThreshold},
		{"orange_threshold", c.Context.OrangeThreshold},
		{"red_threshold", c.Context.RedThreshold},
		{"emergency_threshold", c.Context.EmergencyThreshold},
	}
	for _, t := range thresholds {
		if t.value <= 0 || t.value > 1 {
			return fmt.Errorf("context.%s must be in (0,1], got %v", t.name, t.value)
		}
	}
	if !(c.Context.YellowThreshold < c.Context.OrangeThreshold &&
		c.Context.OrangeThreshold < c.Context.RedThreshold &&
		c.Context.RedThreshold < c.Context.EmergencyThreshold) {
		return fmt.Errorf("context zone thresholds must be strictly increasing")
	}
	if c.Context.CompressionRatio <= 0 || c.Context.CompressionRatio >= 1 {
		return fmt.Errorf("context.compression_ratio must be in (0,1), got %v", c.Context.CompressionRatio)
	}
	for phase, alloc := range c.Context.PhaseAllocations {
		sum := alloc.Working + alloc.Session + alloc.Episodic
		if sum < 0.99 || sum > 1.01 {
			return fmt.Errorf("phase_allocations[%s] must sum to 1, got %v", phase, sum)
		}
	}

	if c.Decision.QualityThreshold <= 0 || c.Decision.QualityThreshold > 1 {
		return fmt.Errorf("decision.quality_threshold must be in (0,1], got %v", c.Decision.QualityThreshold)
	}
	if c.Decision.LowConfidenceThreshold >= c.Decision.HighConfidenceThreshold {
		return fmt.Errorf("decision.low_confidence_threshold must be below high_confidence_threshold")
	}
	if c.Decision.MaxIterations < 1 {
		return fmt.Errorf("decision.max_iterations must be >= 1, got %d", c.Decision.MaxIterations)
	}
	if c.Decision.HeuristicWeight < 0 || c.Decision.HeuristicWeight > 1 {
		return fmt.Errorf("decision.heuristic_weight must be in [0,1], got %v", c.Decision.HeuristicWeight)
	}

	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return fmt.Errorf("retry.jitter_fraction must be in [0,1), got %v", c.Retry.JitterFraction)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay.Duration() <= 0 {
		return fmt.Errorf("retry.base_delay must be > 0")
	}
	if c.Retry.MaxDelay.Duration() < c.Retry.BaseDelay.Duration() {
		return fmt.Errorf("retry.max_delay must be >= base_delay")
	}

	if c.Dispatch.Timeout.Duration() <= 0 {
		return fmt.Errorf("dispatch.timeout must be > 0")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	return nil
}
