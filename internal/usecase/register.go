package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"taskq/internal/domain"
	"taskq/internal/ports"
)

// Registrar handles the worker boundary: registration with capability
// matching, heartbeats, and graceful unregistration.
type Registrar struct {
	Store     ports.Store
	Transport ports.Transport
}

// Register records a worker and its declared capabilities, given as task type
// names. Idempotent: re-registration with the same id refreshes name and
// capabilities and resets liveness to alive. A capability naming a task type
// that does not exist fails with domain.ErrInvalidCapability.
func (r Registrar) Register(ctx context.Context, workerID, name string, capabilityNames []string) (*domain.Worker, error) {
	if workerID == "" {
		workerID = uuid.NewString()
	}

	typeIDs := make([]string, 0, len(capabilityNames))
	for _, typeName := range capabilityNames {
		tt, err := r.Store.TaskTypeByName(ctx, typeName)
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", typeName, domain.ErrInvalidCapability)
		}
		typeIDs = append(typeIDs, tt.ID)
		// The type's queue must exist before the first dispatch to it.
		if err := r.Transport.EnsureTaskQueue(ctx, typeName); err != nil {
			return nil, err
		}
	}

	w := domain.Worker{
		ID:           workerID,
		Name:         name,
		Status:       domain.WorkerAlive,
		RegisteredAt: time.Now(),
	}
	if err := r.Store.RegisterWorker(ctx, w, typeIDs); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("worker", workerID).
		Str("name", name).
		Strs("capabilities", capabilityNames).
		Msg("worker registered")
	return &w, nil
}

func (r Registrar) Heartbeat(ctx context.Context, workerID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	return r.Store.RecordHeartbeat(ctx, workerID, at)
}

func (r Registrar) Unregister(ctx context.Context, workerID string) error {
	if err := r.Store.UnregisterWorker(ctx, workerID); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("worker", workerID).Msg("worker unregistered")
	return nil
}
