// Package orchestrator runs the sequential work loop: select a ready
// task, assemble its context, dispatch it to the agent, evaluate the
// response, and apply the resulting decision. Control intents arrive on
// a channel and are applied at safe points between stages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/agent"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/decision"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/memory"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/retry"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
)

// ErrLoopStopped is returned by control methods after Run has exited.
var ErrLoopStopped = errors.New("orchestration loop stopped")

// Orchestrator drives tasks through the dispatch-evaluate-apply cycle.
// One dispatch is in flight at a time; the graph and memory manager
// handle their own locking.
type Orchestrator struct {
	cfg    *config.Config
	graph  *scheduler.Graph
	engine *decision.Engine
	mem    *memory.Manager
	agent  agent.Agent
	policy *retry.Policy
	logger *logging.Logger
	tracer trace.Tracer

	intents chan Intent
	done    chan struct{}

	mu           sync.Mutex
	paused       bool
	stopping     bool
	current      string
	lastDecision *decision.Decision
	overrides    map[string]decision.Outcome
	lastIssues   map[string][]string
}

// New wires an orchestrator from its collaborators.
func New(cfg *config.Config, graph *scheduler.Graph, engine *decision.Engine, mem *memory.Manager, ag agent.Agent, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		graph:  graph,
		engine: engine,
		mem:    mem,
		agent:  ag,
		policy: retry.NewPolicy(retry.Config{
			BaseDelay:      cfg.Retry.BaseDelay.Duration(),
			MaxDelay:       cfg.Retry.MaxDelay.Duration(),
			Multiplier:     cfg.Retry.Multiplier,
			JitterFraction: cfg.Retry.JitterFraction,
			MaxAttempts:    cfg.Retry.MaxAttempts,
		}),
		logger:     logger.Named("orchestrator"),
		tracer:     otel.Tracer("orchd.orchestrator"),
		intents:    make(chan Intent, 16),
		done:       make(chan struct{}),
		overrides:  make(map[string]decision.Outcome),
		lastIssues: make(map[string][]string),
	}
}

// Run executes the loop until all work settles, Stop arrives, or ctx is
// cancelled. A final checkpoint is always attempted on the way out.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	o.logger.Info(ctx, "orchestration loop starting",
		zap.Int("tasks", len(o.graph.Tasks())))

	tickCtx, stopTicker := context.WithCancel(ctx)
	defer stopTicker()
	go o.checkpointTicker(tickCtx)

	for {
		o.drainIntents(ctx)

		if o.isStopping() {
			return o.shutdown(context.Background())
		}
		if ctx.Err() != nil {
			o.shutdown(context.Background())
			return ctx.Err()
		}
		if o.isPaused() {
			if err := o.waitForIntent(ctx); err != nil {
				continue
			}
			continue
		}

		ready := o.graph.ReadyTasks()
		if len(ready) == 0 {
			if !o.hasRunnableFuture() {
				o.logger.Info(ctx, "no runnable tasks remain")
				return o.shutdown(context.Background())
			}
			// Runnable work exists but needs an intent (unblock,
			// inject, override) to move; wait for one.
			if err := o.waitForIntent(ctx); err != nil {
				continue
			}
			continue
		}

		if err := o.runTask(ctx, ready[0]); err != nil {
			o.logger.Error(ctx, "task processing failed", zap.Error(err))
			o.shutdown(context.Background())
			return err
		}
	}
}

// hasRunnableFuture reports whether any non-terminal, non-blocked task
// remains. Blocked tasks need operator intervention to ever run.
func (o *Orchestrator) hasRunnableFuture() bool {
	for _, t := range o.graph.Tasks() {
		if t.Status.Terminal() {
			continue
		}
		if t.Status == scheduler.StatusBlocked {
			return true
		}
	}
	return false
}

func (o *Orchestrator) runTask(ctx context.Context, task *scheduler.Task) error {
	ctx = logging.WithTaskID(ctx, task.ID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.task",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.Int("task.iteration", task.Iteration)))
	defer span.End()

	if err := o.graph.MarkInProgress(ctx, task.ID); err != nil {
		return fmt.Errorf("claiming task %s: %w", task.ID, err)
	}
	o.setCurrent(task.ID)
	defer o.setCurrent("")

	prompt, err := o.buildPrompt(ctx, task)
	if err != nil {
		return fmt.Errorf("building context for %s: %w", task.ID, err)
	}

	o.mem.Record(ctx, memory.Operation{
		Type:    memory.OpDispatch,
		Payload: fmt.Sprintf("dispatched %s (%s), iteration %d", task.ID, task.Title, task.Iteration),
		Tokens:  memory.EstimateTokens(prompt),
	})

	response, err := o.dispatch(ctx, prompt)
	if o.isStopping() || ctx.Err() != nil {
		if rerr := o.graph.ReturnToPending(context.Background(), task.ID); rerr != nil {
			o.logger.Warn(ctx, "failed to return task to pending", zap.Error(rerr))
		}
		return nil
	}
	if err != nil {
		o.mem.Record(ctx, memory.Operation{
			Type:    memory.OpError,
			Payload: fmt.Sprintf("dispatch of %s failed permanently: %v", task.ID, err),
		})
		return o.graph.MarkFailed(ctx, task.ID, true)
	}

	o.mem.Record(ctx, memory.Operation{
		Type:    memory.OpNote,
		Payload: fmt.Sprintf("response received for %s", task.ID),
		Tokens:  memory.EstimateTokens(response),
	})

	// Safe point between dispatch and evaluation.
	o.drainIntents(ctx)
	if o.isStopping() {
		return o.graph.ReturnToPending(context.Background(), task.ID)
	}

	d, err := o.evaluate(ctx, task, response)
	if err != nil {
		o.mem.Record(ctx, memory.Operation{
			Type:    memory.OpError,
			Payload: fmt.Sprintf("evaluation of %s failed: %v", task.ID, err),
		})
		return o.graph.MarkFailed(ctx, task.ID, true)
	}

	// Safe point after the decision; overrides applied here win.
	o.drainIntents(ctx)
	if outcome, ok := o.takeOverride(task.ID); ok {
		o.logger.Info(ctx, "decision overridden",
			zap.String("engine_outcome", string(d.Outcome)),
			zap.String("override", string(outcome)))
		d.Outcome = outcome
		d.Reason = "operator override"
	}
	o.setLastDecision(d)

	o.mem.Record(ctx, memory.Operation{
		Type: memory.OpDecision,
		Payload: fmt.Sprintf("decision for %s: %s (quality %.2f, confidence %.2f)",
			task.ID, d.Outcome, d.Quality, d.Confidence),
	})

	return o.apply(ctx, task, d)
}

func (o *Orchestrator) apply(ctx context.Context, task *scheduler.Task, d *decision.Decision) error {
	switch d.Outcome {
	case decision.Proceed:
		o.storeIssues(task.ID, nil)
		if err := o.graph.MarkCompleted(ctx, task.ID); err != nil {
			return err
		}
		o.mem.Record(ctx, memory.Operation{
			Type:    memory.OpMilestone,
			Payload: fmt.Sprintf("completed %s (%s)", task.ID, task.Title),
		})
		return nil

	case decision.Retry:
		o.storeIssues(task.ID, d.Issues)
		if d.CountsAgainstBudget {
			if err := o.graph.RecordIteration(ctx, task.ID, string(d.Outcome)); err != nil {
				return err
			}
		}
		return o.graph.ReturnToPending(ctx, task.ID)

	case decision.ClarificationNeeded:
		o.setPaused(true)
		o.mem.Record(ctx, memory.Operation{
			Type:    memory.OpNote,
			Payload: fmt.Sprintf("paused for clarification on %s: %s", task.ID, d.Reason),
		})
		o.logger.Warn(ctx, "loop paused awaiting clarification",
			zap.String("task_id", task.ID),
			zap.Float64("confidence", d.Confidence))
		return o.graph.ReturnToPending(ctx, task.ID)

	case decision.Escalate:
		// Escalation is a breakpoint: the task parks Blocked and the
		// loop suspends until an operator intervenes. Dependents stay
		// held because the blocked task never completes.
		o.setPaused(true)
		if err := o.graph.Block(ctx, task.ID, "escalated: "+d.Reason); err != nil {
			return err
		}
		o.mem.Record(ctx, memory.Operation{
			Type:    memory.OpError,
			Payload: fmt.Sprintf("escalated %s, awaiting operator: %s", task.ID, d.Reason),
		})
		o.logger.Warn(ctx, "loop paused awaiting escalation resolution",
			zap.String("task_id", task.ID),
			zap.Int("iteration", task.Iteration),
			zap.String("reason", d.Reason))
		return nil

	default:
		return fmt.Errorf("unknown decision outcome %q", d.Outcome)
	}
}

// buildPrompt assembles the dispatch context: the task statement,
// issues carried from the previous attempt, then the tiered memory
// context.
func (o *Orchestrator) buildPrompt(ctx context.Context, task *scheduler.Task) (string, error) {
	memCtx, err := o.mem.BuildContext(ctx, "execution", 0)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# Task: ")
	sb.WriteString(task.Title)
	sb.WriteString("\n\n")
	if task.Description != "" {
		sb.WriteString(task.Description)
		sb.WriteString("\n\n")
	}
	if issues := o.carriedIssues(task.ID); len(issues) > 0 {
		sb.WriteString("## Issues from previous attempt\n")
		for _, issue := range issues {
			sb.WriteString("- ")
			sb.WriteString(issue)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(memCtx)
	return sb.String(), nil
}

type dispatchResult struct {
	text string
	err  error
}

// dispatch invokes the agent under the hard timeout, retrying transient
// failures per the backoff policy. The intent channel stays serviced
// while a call is in flight; Stop cancels it.
func (o *Orchestrator) dispatch(ctx context.Context, prompt string) (string, error) {
	for attempt := 0; ; attempt++ {
		res := o.invokeOnce(ctx, prompt)
		if res.err == nil {
			return res.text, nil
		}
		if o.isStopping() || ctx.Err() != nil {
			return "", res.err
		}

		err := res.err
		if errors.Is(err, context.DeadlineExceeded) {
			err = retry.MarkTransient(fmt.Errorf("%w after %s", agent.ErrAgentTimeout,
				o.cfg.Dispatch.Timeout.Duration()))
		}
		action := o.policy.NextAction(retry.Classify(err), attempt)
		if !action.Retry {
			return "", err
		}

		o.logger.Warn(ctx, "dispatch failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", action.Delay),
			zap.Error(err))
		o.mem.Record(ctx, memory.Operation{
			Type:    memory.OpError,
			Payload: fmt.Sprintf("dispatch attempt %d failed: %v", attempt, err),
		})

		select {
		case <-time.After(action.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// invokeOnce runs a single agent call while keeping intents serviced.
func (o *Orchestrator) invokeOnce(ctx context.Context, prompt string) dispatchResult {
	dctx, cancel := context.WithTimeout(ctx, o.cfg.Dispatch.Timeout.Duration())
	defer cancel()

	resCh := make(chan dispatchResult, 1)
	go func() {
		text, err := o.agent.Invoke(dctx, prompt)
		resCh <- dispatchResult{text: text, err: err}
	}()

	for {
		select {
		case res := <-resCh:
			return res
		case in := <-o.intents:
			o.handleIntent(ctx, in)
			if in.Kind == IntentStop {
				cancel()
				return <-resCh
			}
		case <-ctx.Done():
			cancel()
			return <-resCh
		}
	}
}

// evaluate runs the decision engine, retrying transient worker
// failures per the backoff policy.
func (o *Orchestrator) evaluate(ctx context.Context, task *scheduler.Task, response string) (*decision.Decision, error) {
	criteria := task.Description
	if criteria == "" {
		criteria = task.Title
	}
	in := decision.Input{
		TaskID:    task.ID,
		Iteration: task.Iteration,
		Response:  response,
		Criteria:  criteria,
	}

	for attempt := 0; ; attempt++ {
		d, err := o.engine.Evaluate(ctx, in)
		if err == nil {
			return d, nil
		}
		action := o.policy.NextAction(retry.Classify(err), attempt)
		if !action.Retry {
			return nil, err
		}
		o.logger.Warn(ctx, "evaluation failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", action.Delay),
			zap.Error(err))
		select {
		case <-time.After(action.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// shutdown takes the final checkpoint and reports the loop stopped.
func (o *Orchestrator) shutdown(ctx context.Context) error {
	hints := memory.ResumeHints{}
	if ready := o.graph.ReadyTasks(); len(ready) > 0 {
		hints.NextTask = ready[0].ID
	}
	for _, t := range o.graph.Tasks() {
		if t.Status == scheduler.StatusBlocked {
			hints.Blockers = append(hints.Blockers,
				fmt.Sprintf("%s: %s", t.ID, t.BlockedReason))
		}
	}
	if d := o.LastDecision(); d != nil && d.Warned {
		hints.Warnings = append(hints.Warnings,
			fmt.Sprintf("last proceed on %s carried low confidence %.2f", d.TaskID, d.Confidence))
	}

	if _, err := o.mem.Checkpoint(ctx, memory.TriggerManual, hints); err != nil {
		o.logger.Warn(ctx, "final checkpoint failed", zap.Error(err))
	}
	o.logger.Info(ctx, "orchestration loop stopped")
	return nil
}

// checkpointTicker fires the wall-clock checkpoint trigger while the
// loop sits idle or paused. Zone triggers are handled at context builds;
// only the elapsed-time trigger needs polling.
func (o *Orchestrator) checkpointTicker(ctx context.Context) {
	interval := o.cfg.Context.CheckpointInterval.Duration()
	poll := interval / 4
	if poll > time.Minute {
		poll = time.Minute
	}
	if poll <= 0 {
		poll = time.Minute
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger, due := o.mem.ShouldCheckpoint()
			if !due || trigger != memory.TriggerTime {
				continue
			}
			if _, err := o.mem.Checkpoint(ctx, trigger, memory.ResumeHints{}); err != nil {
				o.logger.Warn(ctx, "interval checkpoint failed", zap.Error(err))
			}
		}
	}
}

// drainIntents applies every queued intent without blocking.
func (o *Orchestrator) drainIntents(ctx context.Context) {
	for {
		select {
		case in := <-o.intents:
			o.handleIntent(ctx, in)
		default:
			return
		}
	}
}

// waitForIntent blocks until one intent arrives or ctx ends.
func (o *Orchestrator) waitForIntent(ctx context.Context) error {
	select {
	case in := <-o.intents:
		o.handleIntent(ctx, in)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) handleIntent(ctx context.Context, in Intent) {
	switch in.Kind {
	case IntentPause:
		o.setPaused(true)
		o.logger.Info(ctx, "loop paused")
	case IntentResume:
		o.setPaused(false)
		o.logger.Info(ctx, "loop resumed")
	case IntentStop:
		o.mu.Lock()
		o.stopping = true
		o.mu.Unlock()
		o.logger.Info(ctx, "stop requested")
	case IntentInject:
		if _, err := o.graph.AddTask(ctx, in.Task); err != nil {
			o.logger.Warn(ctx, "task injection rejected",
				zap.String("task_id", in.Task.ID), zap.Error(err))
			return
		}
		o.mem.Record(ctx, memory.Operation{
			Type:    memory.OpInjected,
			Payload: fmt.Sprintf("injected task %s (%s)", in.Task.ID, in.Task.Title),
		})
	case IntentMessage:
		o.mem.Record(ctx, memory.Operation{
			Type:    memory.OpInjected,
			Payload: "operator: " + in.Message,
		})
		o.logger.Info(ctx, "operator message recorded")
	case IntentOverride:
		o.mu.Lock()
		o.overrides[in.TaskID] = in.Outcome
		o.mu.Unlock()
		o.logger.Info(ctx, "override registered",
			zap.String("task_id", in.TaskID),
			zap.String("outcome", string(in.Outcome)))
	}
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) setPaused(v bool) {
	o.mu.Lock()
	o.paused = v
	o.mu.Unlock()
}

func (o *Orchestrator) isStopping() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopping
}

func (o *Orchestrator) setCurrent(id string) {
	o.mu.Lock()
	o.current = id
	o.mu.Unlock()
}

func (o *Orchestrator) setLastDecision(d *decision.Decision) {
	o.mu.Lock()
	o.lastDecision = d
	o.mu.Unlock()
}

// LastDecision returns the most recent applied decision.
func (o *Orchestrator) LastDecision() *decision.Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastDecision
}

func (o *Orchestrator) takeOverride(taskID string) (decision.Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	outcome, ok := o.overrides[taskID]
	if ok {
		delete(o.overrides, taskID)
	}
	return outcome, ok
}

func (o *Orchestrator) storeIssues(taskID string, issues []string) {
	o.mu.Lock()
	o.lastIssues[taskID] = issues
	o.mu.Unlock()
}

func (o *Orchestrator) carriedIssues(taskID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastIssues[taskID]
}
