// Package decision converts staged validation output into one of four
// actions: proceed, retry, request clarification, escalate. The stage
// order is fixed: format check before quality scoring before confidence
// scoring. Quality scoring invokes a model and must not run on an
// incomplete response; confidence is meaningless without a quality score
// to ground it.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/agent"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/retry"
)

// Input is one iteration's evaluation request.
type Input struct {
	TaskID string
	// Iteration is the number of budget-consuming attempts already made.
	Iteration int
	// Response is the raw agent output under evaluation.
	Response string
	// Criteria describes what the response is expected to cover.
	Criteria string
}

// Engine runs the per-iteration decision pipeline. It is purely
// functional over its inputs; the only side effect is appending each
// decision to the task's log through the Recorder.
type Engine struct {
	cfg        config.DecisionConfig
	validator  *Validator
	worker     agent.Worker
	aggregator *Aggregator
	recorder   Recorder
	logger     *logging.Logger
}

// NewEngine creates a decision engine. recorder may be nil when no
// durable decision log is wanted (tests).
func NewEngine(cfg config.DecisionConfig, worker agent.Worker, recorder Recorder, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		validator:  NewValidator(nil),
		worker:     worker,
		aggregator: NewAggregator(worker, cfg.HeuristicWeight),
		recorder:   recorder,
		logger:     logger.Named("decision"),
	}
}

// Evaluate runs format -> quality -> confidence and returns the
// decision. Worker infrastructure failures return an error classified
// Transient; they are never conflated with content defects and never
// appear in the decision log.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	// Stage 1: format completeness. Cheap, model-free, always first.
	validation := e.validator.Validate(in.Response)
	if !validation.Complete {
		// The first malformed attempt is free: malformed-response
		// retries are cheap and must not consume the substantive
		// iteration budget.
		d := e.newDecision(in, Retry)
		d.Issues = validation.MissingFields
		d.Reason = fmt.Sprintf("response missing fields: %v", validation.MissingFields)
		d.CountsAgainstBudget = in.Iteration > 0
		return d, e.record(ctx, d)
	}

	// Stage 2: quality scoring (invokes the model).
	quality, err := e.assessQuality(ctx, in)
	if err != nil {
		return nil, err
	}

	if quality.Score < e.cfg.QualityThreshold {
		if in.Iteration >= e.cfg.MaxIterations {
			d := e.newDecision(in, Escalate)
			d.Quality = quality.Score
			d.Issues = quality.Issues
			d.CountsAgainstBudget = true
			d.Reason = fmt.Sprintf("quality %.2f below threshold %.2f after %d iterations",
				quality.Score, e.cfg.QualityThreshold, in.Iteration)
			return d, e.record(ctx, d)
		}

		// Carry the specific issues forward so the next attempt's
		// context includes them.
		d := e.newDecision(in, Retry)
		d.Quality = quality.Score
		d.Issues = quality.Issues
		d.CountsAgainstBudget = true
		d.Reason = fmt.Sprintf("quality %.2f below threshold %.2f", quality.Score, e.cfg.QualityThreshold)
		return d, e.record(ctx, d)
	}

	// Stage 3: confidence scoring, grounded on the quality result.
	confidence, err := e.aggregator.Confidence(ctx, in.Response, quality)
	if err != nil {
		return nil, err
	}

	d := e.newDecision(in, Proceed)
	d.Quality = quality.Score
	d.Confidence = confidence.Value
	d.CountsAgainstBudget = true

	switch {
	case confidence.Value < e.cfg.LowConfidenceThreshold:
		d.Outcome = ClarificationNeeded
		d.Reason = fmt.Sprintf("confidence %.2f below %.2f", confidence.Value, e.cfg.LowConfidenceThreshold)
	case confidence.Value < e.cfg.HighConfidenceThreshold:
		d.Warned = true
		d.Reason = fmt.Sprintf("proceeding with moderate confidence %.2f", confidence.Value)
		e.logger.Warn(ctx, "proceeding below high-confidence band",
			zap.String("task_id", in.TaskID),
			zap.Float64("confidence", confidence.Value),
			zap.Float64("quality", quality.Score),
		)
	default:
		d.Reason = fmt.Sprintf("quality %.2f, confidence %.2f", quality.Score, confidence.Value)
	}

	return d, e.record(ctx, d)
}

func (e *Engine) assessQuality(ctx context.Context, in Input) (*QualityAssessment, error) {
	score, issues, err := e.worker.Score(ctx, in.Response, in.Criteria)
	if err != nil {
		return nil, retry.MarkTransient(fmt.Errorf("quality scoring: %w", err))
	}
	return &QualityAssessment{Score: score, Issues: issues}, nil
}

func (e *Engine) newDecision(in Input, outcome Outcome) *Decision {
	return &Decision{
		ID:         uuid.New().String(),
		TaskID:     in.TaskID,
		Iteration:  in.Iteration,
		Outcome:    outcome,
		RetryCount: in.Iteration,
		CreatedAt:  time.Now(),
	}
}

func (e *Engine) record(ctx context.Context, d *Decision) error {
	if e.recorder == nil {
		return nil
	}
	if err := e.recorder.AppendDecision(ctx, d); err != nil {
		return fmt.Errorf("appending decision for %s: %w", d.TaskID, err)
	}
	return nil
}
