package scheduler

import "errors"

// Structural graph errors. These are local validation failures surfaced
// synchronously to the caller; they never enter the retry path.
var (
	// ErrDuplicateTask is returned when registering a task whose ID exists.
	ErrDuplicateTask = errors.New("task already exists")

	// ErrUnknownTask is returned when an operation references a missing task.
	ErrUnknownTask = errors.New("unknown task")

	// ErrCycleDetected is returned when an edge insertion would create a
	// cycle. The graph is left unchanged.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrNotBlocked is returned when unblocking a task that is not Blocked.
	ErrNotBlocked = errors.New("task is not blocked")
)
