package ports

import (
	"context"
	"encoding/json"
	"time"

	"taskq/internal/domain"
)

// SweepReport summarizes one liveness sweep.
type SweepReport struct {
	Suspected []string // workers newly moved alive → suspected
	Dead      []string // workers newly moved → dead
	Reclaimed int      // tasks returned to pending from dead workers
}

// Store is the durable consistency anchor. Every status-affecting write is a
// conditional update guarded on the current status; a failed guard surfaces as
// domain.ErrStaleTransition.
type Store interface {
	// Task types.
	CreateTaskType(ctx context.Context, name string) (*domain.TaskType, error)
	TaskTypeByName(ctx context.Context, name string) (*domain.TaskType, error)
	ListTaskTypes(ctx context.Context) ([]domain.TaskType, error)

	// Worker registry. RegisterWorker is idempotent: re-registration with the
	// same id replaces name and capabilities, resets liveness to alive and
	// seeds a heartbeat, all in one transaction. Unknown capability task types
	// fail with domain.ErrInvalidCapability.
	RegisterWorker(ctx context.Context, w domain.Worker, capabilities []string) error
	UnregisterWorker(ctx context.Context, workerID string) error
	GetWorker(ctx context.Context, workerID string) (*domain.Worker, error)
	ListWorkers(ctx context.Context) ([]domain.Worker, error)
	// CapableWorkers returns ids of alive workers holding the capability.
	CapableWorkers(ctx context.Context, taskTypeID string) ([]string, error)

	// Liveness. RecordHeartbeat appends to the heartbeat log and revives any
	// non-dead worker to alive; dead workers stay dead until re-registration.
	RecordHeartbeat(ctx context.Context, workerID string, at time.Time) error
	// SweepLiveness applies the two-threshold rule against the latest recorded
	// heartbeat per worker and reclaims tasks of newly dead workers.
	SweepLiveness(ctx context.Context, now time.Time, heartbeatTimeout, deathTimeout time.Duration) (*SweepReport, error)

	// Task lifecycle.
	CreateTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	// PendingByType returns pending tasks of one type, oldest first.
	PendingByType(ctx context.Context, taskTypeID string, limit int) ([]domain.Task, error)
	// TypesWithPending returns ids of task types that have at least one
	// pending task.
	TypesWithPending(ctx context.Context) ([]string, error)
	// AssignTask moves pending → queued with assigned_to set.
	AssignTask(ctx context.Context, taskID, workerID string) error
	// ReleaseTask is the compensating move queued → pending after a publish
	// that could not be retried further; only the given assignee is released.
	ReleaseTask(ctx context.Context, taskID, workerID string) error
	// StartTask moves queued → running, guarded on the task still being
	// assigned to workerID.
	StartTask(ctx context.Context, taskID, workerID string) error
	// CancelTask moves pending/queued → cancelled. Running tasks are not
	// interruptible and finish naturally.
	CancelTask(ctx context.Context, taskID string) error
	// FinalizeTask records the single TaskResult and moves the task to
	// completed or failed in one transaction. A task already terminal yields
	// domain.ErrDuplicateResult; a reclaimed (pending) task yields
	// domain.ErrOrphanedResult.
	FinalizeTask(ctx context.Context, taskID, workerID string, success bool, output, errData json.RawMessage) (*domain.TaskResult, error)

	GetResult(ctx context.Context, taskID string) (*domain.TaskResult, error)
}
