package orchestrator

import (
	"context"
	"fmt"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/decision"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
)

// IntentKind identifies a control-channel request.
type IntentKind string

const (
	IntentPause    IntentKind = "pause"
	IntentResume   IntentKind = "resume"
	IntentStop     IntentKind = "stop"
	IntentInject   IntentKind = "inject"
	IntentMessage  IntentKind = "message"
	IntentOverride IntentKind = "override"
)

// Intent is one control request. Intents are applied at safe points in
// the loop (between pipeline stages), never mid-stage; stop
// additionally cancels an in-flight dispatch.
type Intent struct {
	Kind IntentKind

	// Task is the new task for Inject.
	Task *scheduler.Task
	// Message is operator guidance delivered into the next context
	// build.
	Message string
	// TaskID and Outcome carry an Override of the next decision for
	// that task.
	TaskID  string
	Outcome decision.Outcome
}

// Pause suspends dispatching after the current task settles.
func (o *Orchestrator) Pause(ctx context.Context) error {
	return o.send(ctx, Intent{Kind: IntentPause})
}

// Resume lifts a pause.
func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.send(ctx, Intent{Kind: IntentResume})
}

// Stop shuts the loop down: the in-flight dispatch is cancelled, its
// task returns to pending, and a final checkpoint is taken.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.send(ctx, Intent{Kind: IntentStop})
}

// InjectTask adds a task to the graph mid-run.
func (o *Orchestrator) InjectTask(ctx context.Context, task *scheduler.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("inject requires a task with an ID")
	}
	return o.send(ctx, Intent{Kind: IntentInject, Task: task})
}

// InjectMessage records operator guidance; it surfaces in the next
// context build.
func (o *Orchestrator) InjectMessage(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("inject requires a non-empty message")
	}
	return o.send(ctx, Intent{Kind: IntentMessage, Message: text})
}

// OverrideDecision forces the next decision outcome for a task,
// bypassing the engine's verdict.
func (o *Orchestrator) OverrideDecision(ctx context.Context, taskID string, outcome decision.Outcome) error {
	if taskID == "" {
		return fmt.Errorf("override requires a task ID")
	}
	return o.send(ctx, Intent{Kind: IntentOverride, TaskID: taskID, Outcome: outcome})
}

func (o *Orchestrator) send(ctx context.Context, in Intent) error {
	select {
	case o.intents <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrLoopStopped
	}
}
