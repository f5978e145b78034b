package ports

import (
	"context"
	"encoding/json"
	"time"
)

// DispatchMessage carries one assigned task to its type's queue.
type DispatchMessage struct {
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	WorkerID string          `json:"worker_id"`
	Input    json.RawMessage `json:"input"`
}

// ResultMessage carries a worker-reported outcome back to the manager.
type ResultMessage struct {
	TaskID   string          `json:"task_id"`
	WorkerID string          `json:"worker_id"`
	Success  bool            `json:"success"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// Transport is the broker boundary: one durable queue per task type for
// dispatch, plus a single result queue consumed by the manager. Consumption is
// claim/ack; a claimed but unacked message is redelivered after a crash, so
// consumers must be idempotent.
type Transport interface {
	// EnsureTaskQueue creates the durable queue for a task type if missing.
	EnsureTaskQueue(ctx context.Context, taskType string) error

	PublishTask(ctx context.Context, msg DispatchMessage) error
	// ClaimTask blocks up to block for a dispatch message on the type's
	// queue. A nil message with nil error means nothing arrived.
	ClaimTask(ctx context.Context, taskType, consumer string, block time.Duration) (*DispatchMessage, string, error)
	AckTask(ctx context.Context, taskType, deliveryID string) error

	PublishResult(ctx context.Context, msg ResultMessage) error
	ClaimResult(ctx context.Context, consumer string, block time.Duration) (*ResultMessage, string, error)
	AckResult(ctx context.Context, deliveryID string) error
}
