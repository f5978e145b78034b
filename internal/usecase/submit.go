package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"taskq/internal/domain"
	"taskq/internal/ports"
)

// Submitter is the submission boundary: it validates the task type and
// creates the task in pending. Dispatch happens asynchronously.
type Submitter struct {
	Store ports.Store
}

func (s Submitter) Submit(ctx context.Context, typeName string, input json.RawMessage) (*domain.Task, error) {
	tt, err := s.Store.TaskTypeByName(ctx, typeName)
	if err != nil {
		return nil, err
	}

	t := domain.Task{
		ID:         uuid.NewString(),
		TaskTypeID: tt.ID,
		InputData:  input,
		Status:     domain.StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := s.Store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Cancel stops a task before execution. Once running, the worker is not
// interruptible and the task reaches a terminal state naturally.
func (s Submitter) Cancel(ctx context.Context, taskID string) error {
	return s.Store.CancelTask(ctx, taskID)
}
