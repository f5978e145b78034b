package domain

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskType is a named category of work determining which workers may run a task.
type TaskType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Task struct {
	ID         string          `json:"id"`
	TaskTypeID string          `json:"task_type_id"`
	InputData  json.RawMessage `json:"input_data"`
	Status     TaskStatus      `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	AssignedTo string          `json:"assigned_to,omitempty"` // empty unless queued/running
}

// TaskResult is the single immutable record of a task's terminal outcome.
// Exactly one of OutputData/ErrorData is set.
type TaskResult struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	OutputData  json.RawMessage `json:"output_data,omitempty"`
	ErrorData   json.RawMessage `json:"error_data,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	WorkerID    string          `json:"worker_id"`
	CreatedAt   time.Time       `json:"created_at"`
}
