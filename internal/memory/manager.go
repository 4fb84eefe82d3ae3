// Package memory implements the tiered context manager: a bounded
// working buffer, an append-only session document, versioned episodic
// documents, and a durable archive, all accounted against a token
// budget with zone-driven checkpointing.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/agent"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
)

// CheckpointPersister stores checkpoint records durably.
type CheckpointPersister interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
}

// ArchiveResult is one hit from an archive similarity query.
type ArchiveResult struct {
	Kind    string
	Version int
	Content string
	Score   float32
}

// Archive indexes episodic snapshots and serves read-only similarity
// queries over them. Queries are a fallback for when the live episodic
// summaries lack needed detail.
type Archive interface {
	IndexSnapshot(ctx context.Context, kind EpisodicKind, version int, content string) error
	Search(ctx context.Context, query string, limit int) ([]ArchiveResult, error)
}

// Deps are the persistence collaborators for a Manager. Any of them
// may be nil, in which case the corresponding tier is memory-only.
type Deps struct {
	Episodic    EpisodicPersister
	Checkpoints CheckpointPersister
	Archive     Archive
}

// Status is a point-in-time snapshot of budget state for reporting.
type Status struct {
	Zone           Zone
	TokensUsed     int
	TokensMax      int
	Fraction       float64
	LastCheckpoint time.Time
}

// Manager owns the four memory tiers and the token budget.
type Manager struct {
	cfg      config.ContextConfig
	working  *workingTier
	session  *sessionTier
	episodic *episodicTier
	budget   *budgetTracker
	comp     *compressor
	deps     Deps
	logger   *logging.Logger

	tracer            trace.Tracer
	checkpointCounter metric.Int64Counter
	compressCounter   metric.Int64Counter

	mu             sync.Mutex
	lastCheckpoint time.Time

	now func() time.Time
}

// NewManager builds a Manager from config. worker drives summarization
// and may be nil (compression then degrades to truncation).
func NewManager(cfg *config.Config, worker agent.Worker, deps Deps, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	cc := cfg.Context

	m := &Manager{
		cfg:      cc,
		working:  newWorkingTier(cc.WorkingCapacity, cc.WorkingTokenCap),
		session:  newSessionTier(),
		episodic: newEpisodicTier(cc.EpisodicVersions, deps.Episodic),
		budget: newBudgetTracker(cc.MaxTokens,
			cc.YellowThreshold, cc.OrangeThreshold, cc.RedThreshold, cc.EmergencyThreshold),
		comp:   newCompressor(worker, logger.Named("compress")),
		deps:   deps,
		logger: logger,
		tracer: otel.Tracer("orchd.memory"),
		now:    time.Now,
	}
	m.lastCheckpoint = m.now()

	meter := otel.Meter("orchd.memory")
	var err error
	m.checkpointCounter, err = meter.Int64Counter("orchd.checkpoints.total",
		metric.WithDescription("Checkpoints taken, by trigger"))
	if err != nil {
		logger.Warn(context.Background(), "failed to create checkpoint counter", zap.Error(err))
	}
	m.compressCounter, err = meter.Int64Counter("orchd.compressions.total",
		metric.WithDescription("Session compressions performed"))
	if err != nil {
		logger.Warn(context.Background(), "failed to create compression counter", zap.Error(err))
	}

	return m
}

// Record accounts an operation into the working tier. Overflow moves
// oldest-first into the session document; the session auto-compresses
// past its threshold.
func (m *Manager) Record(ctx context.Context, op Operation) {
	if op.Tokens == 0 {
		op.Tokens = EstimateTokens(op.Payload)
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = m.now()
	}
	m.budget.Consume(op.Tokens)

	evicted := m.working.Record(op)
	if len(evicted) > 0 {
		m.session.Append(evicted...)
	}

	if m.session.Tokens() > m.cfg.SessionCompressAt {
		m.session.Compress(ctx, m.comp, m.cfg.CompressionRatio)
		if m.compressCounter != nil {
			m.compressCounter.Add(ctx, 1)
		}
		m.logger.Debug(ctx, "session compressed",
			zap.Int("session_tokens", m.session.Tokens()))
	}
}

// UpdateEpisodic writes a new version of an episodic document and
// indexes it in the archive.
func (m *Manager) UpdateEpisodic(ctx context.Context, kind EpisodicKind, content string) error {
	doc, err := m.episodic.Update(ctx, kind, content)
	if err != nil {
		return err
	}
	if m.deps.Archive != nil {
		if err := m.deps.Archive.IndexSnapshot(ctx, kind, doc.Version, content); err != nil {
			m.logger.Warn(ctx, "archive index failed",
				zap.String("kind", string(kind)), zap.Error(err))
		}
	}
	return nil
}

// Episodic returns the current version of an episodic document.
func (m *Manager) Episodic(kind EpisodicKind) *EpisodicDocument {
	return m.episodic.Get(kind)
}

// EpisodicSnapshots returns retained prior versions, oldest first.
func (m *Manager) EpisodicSnapshots(kind EpisodicKind) []EpisodicDocument {
	return m.episodic.Snapshots(kind)
}

// QueryArchive runs a read-only similarity search over archived
// snapshots.
func (m *Manager) QueryArchive(ctx context.Context, query string, limit int) ([]ArchiveResult, error) {
	if m.deps.Archive == nil {
		return nil, nil
	}
	return m.deps.Archive.Search(ctx, query, limit)
}

// Zone returns the current budget zone.
func (m *Manager) Zone() Zone {
	return m.budget.Zone()
}

// Status returns a snapshot of budget state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	last := m.lastCheckpoint
	m.mu.Unlock()
	return Status{
		Zone:           m.budget.Zone(),
		TokensUsed:     m.budget.Used(),
		TokensMax:      m.budget.Max(),
		Fraction:       m.budget.Fraction(),
		LastCheckpoint: last,
	}
}

// ShouldCheckpoint reports whether a checkpoint is due and why. Red and
// emergency pressure always demand one; orange asks for an
// opportunistic one; long quiet stretches checkpoint on the configured
// interval. A completed checkpoint resets the budget, so each zone
// trigger fires once per crossing.
func (m *Manager) ShouldCheckpoint() (Trigger, bool) {
	zone := m.budget.Zone()

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case zone >= ZoneRed:
		return TriggerRed, true
	case zone == ZoneOrange:
		return TriggerOrange, true
	case m.now().Sub(m.lastCheckpoint) >= m.cfg.CheckpointInterval.Duration():
		return TriggerTime, true
	default:
		return "", false
	}
}

// Checkpoint runs the full snapshot-and-reset procedure: compress the
// session, flush working into it, fold the result into the episodic
// tier, persist a checkpoint record, and reset the budget.
func (m *Manager) Checkpoint(ctx context.Context, trigger Trigger, hints ResumeHints) (*Checkpoint, error) {
	ctx, span := m.tracer.Start(ctx, "memory.checkpoint",
		trace.WithAttributes(attribute.String("trigger", string(trigger))))
	defer span.End()

	usedBefore := m.budget.Used()

	m.session.Compress(ctx, m.comp, m.cfg.CompressionRatio)
	if flushed := m.working.Drain(); len(flushed) > 0 {
		m.session.Append(flushed...)
	}

	sessionContent := m.session.Reset()
	if strings.TrimSpace(sessionContent) != "" {
		if err := m.integrate(ctx, sessionContent); err != nil {
			return nil, fmt.Errorf("integrate session into episodic tier: %w", err)
		}
	}

	cp := &Checkpoint{
		ID:         uuid.NewString(),
		CreatedAt:  m.now(),
		Trigger:    trigger,
		TokensUsed: usedBefore,
		References: m.episodic.Refs(),
		Resume:     hints,
	}
	if m.deps.Checkpoints != nil {
		if err := m.deps.Checkpoints.SaveCheckpoint(ctx, cp); err != nil {
			return nil, fmt.Errorf("persist checkpoint: %w", err)
		}
	}

	m.budget.Reset()
	m.mu.Lock()
	m.lastCheckpoint = cp.CreatedAt
	m.mu.Unlock()

	if m.checkpointCounter != nil {
		m.checkpointCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("trigger", string(trigger))))
	}
	m.logger.Info(ctx, "checkpoint complete",
		zap.String("checkpoint_id", cp.ID),
		zap.String("trigger", string(trigger)),
		zap.Int("tokens_at_checkpoint", usedBefore))

	return cp, nil
}

// integrate folds finished session content into the project state
// document, compressing the merged result to the configured ratio.
func (m *Manager) integrate(ctx context.Context, sessionContent string) error {
	merged := sessionContent
	if prev := m.episodic.Get(ProjectState); prev != nil {
		merged = prev.Content + "\n" + sessionContent
	}
	target := int(float64(EstimateTokens(merged)) * m.cfg.CompressionRatio)
	return m.UpdateEpisodic(ctx, ProjectState, m.comp.CompressText(ctx, merged, target))
}

// BuildContext assembles a prompt context for a task within maxTokens,
// split across tiers by the phase allocation. Red-or-worse pressure
// forces a checkpoint before assembly.
func (m *Manager) BuildContext(ctx context.Context, phase string, maxTokens int) (string, error) {
	ctx, span := m.tracer.Start(ctx, "memory.build_context",
		trace.WithAttributes(attribute.String("phase", phase)))
	defer span.End()

	if trigger, due := m.ShouldCheckpoint(); due {
		if _, err := m.Checkpoint(ctx, trigger, ResumeHints{}); err != nil {
			if trigger == TriggerRed {
				return "", fmt.Errorf("mandatory checkpoint failed: %w", err)
			}
			m.logger.Warn(ctx, "opportunistic checkpoint failed", zap.Error(err))
		}
	}

	if maxTokens <= 0 {
		maxTokens = m.budget.Max()
	}
	alloc, ok := m.cfg.PhaseAllocations[phase]
	if !ok {
		alloc = m.cfg.PhaseAllocations["execution"]
	}
	if alloc == (config.PhaseAllocation{}) {
		alloc = config.PhaseAllocation{Working: 0.5, Session: 0.3, Episodic: 0.2}
	}

	var sb strings.Builder

	episodicBudget := int(float64(maxTokens) * alloc.Episodic)
	if section := m.renderEpisodic(ctx, episodicBudget); section != "" {
		sb.WriteString("## Project Memory\n")
		sb.WriteString(section)
		sb.WriteString("\n")
	}

	sessionBudget := int(float64(maxTokens) * alloc.Session)
	if session := m.session.Render(); strings.TrimSpace(session) != "" {
		sb.WriteString("## Session History\n")
		sb.WriteString(m.comp.CompressText(ctx, session, sessionBudget))
		sb.WriteString("\n")
	}

	workingBudget := int(float64(maxTokens) * alloc.Working)
	sb.WriteString("## Recent Operations\n")
	sb.WriteString(m.renderWorking(workingBudget))

	out := sb.String()
	if EstimateTokens(out) > maxTokens {
		out = truncateToTokens(out, maxTokens)
	}
	return out, nil
}

// renderEpisodic concatenates current episodic documents, compressing
// to fit the tier budget.
func (m *Manager) renderEpisodic(ctx context.Context, budget int) string {
	var sb strings.Builder
	for _, kind := range EpisodicKinds {
		doc := m.episodic.Get(kind)
		if doc == nil || strings.TrimSpace(doc.Content) == "" {
			continue
		}
		sb.WriteString("### ")
		sb.WriteString(string(kind))
		sb.WriteByte('\n')
		sb.WriteString(doc.Content)
		sb.WriteByte('\n')
	}
	text := sb.String()
	if text == "" {
		return ""
	}
	return m.comp.CompressText(ctx, text, budget)
}

// renderWorking emits recent operations verbatim, newest last, fitting
// as many as the budget allows. The most recent operation is always
// included even under extreme pressure.
func (m *Manager) renderWorking(budget int) string {
	ops := m.working.Recent(0)
	if len(ops) == 0 {
		return ""
	}

	start := 0
	total := 0
	for i := len(ops) - 1; i >= 0; i-- {
		total += ops[i].Tokens
		if total > budget && i < len(ops)-1 {
			start = i + 1
			break
		}
	}

	var sb strings.Builder
	for _, op := range ops[start:] {
		sb.WriteString(renderOperation(op))
		sb.WriteByte('\n')
	}
	return sb.String()
}
