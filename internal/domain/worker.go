package domain

import "time"

type WorkerStatus string

const (
	WorkerAlive     WorkerStatus = "alive"
	WorkerSuspected WorkerStatus = "suspected"
	WorkerDead      WorkerStatus = "dead"
)

type Worker struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Status       WorkerStatus `json:"status"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// Heartbeat is one entry of the append-only liveness log. Only the most
// recent entry per worker drives liveness decisions; history is kept for audit.
type Heartbeat struct {
	ID            int64     `json:"id"`
	WorkerID      string    `json:"worker_id"`
	HeartbeatTime time.Time `json:"heartbeat_time"`
	CreatedAt     time.Time `json:"created_at"`
}
