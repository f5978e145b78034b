package domain

import "errors"

var (
	// ErrStaleTransition means a guarded status update found an unexpected
	// current state. Someone else already moved the task; callers re-read
	// and carry on, they never treat this as fatal.
	ErrStaleTransition = errors.New("stale transition")

	// ErrInvalidCapability means a registration referenced a task type that
	// does not exist. Rejected, not retried.
	ErrInvalidCapability = errors.New("invalid capability")

	// ErrDuplicateResult means a result arrived for a task already in a
	// terminal state. Acknowledged as a no-op.
	ErrDuplicateResult = errors.New("duplicate result")

	// ErrOrphanedResult means a result arrived for a task that was reclaimed
	// from its worker and is pending again. Discarded with a warning.
	ErrOrphanedResult = errors.New("orphaned result")

	ErrTaskNotFound     = errors.New("task not found")
	ErrWorkerNotFound   = errors.New("worker not found")
	ErrUnknownTaskType  = errors.New("unknown task type")
	ErrWorkerNotCapable = errors.New("worker lacks capability for task type")
)
