package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"taskq/internal/domain"
	"taskq/internal/ports"
	"taskq/pkg/backoff"
)

// Dispatcher matches pending tasks to capable alive workers and publishes
// them, FIFO per task type. Multiple dispatcher instances may run at once:
// the store's conditional update on pending → queued is what prevents double
// assignment, not mutual exclusion between them.
type Dispatcher struct {
	Store     ports.Store
	Transport ports.Transport

	Interval        time.Duration
	BatchSize       int
	PublishAttempts int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration

	cursor map[string]int // round-robin position per task type
}

func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		if err := d.sweep(ctx); err != nil {
			// One bad sweep never halts dispatch.
			log.Ctx(ctx).Error().Err(err).Msg("dispatch sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) error {
	typeIDs, err := d.Store.TypesWithPending(ctx)
	if err != nil {
		return err
	}
	if len(typeIDs) == 0 {
		return nil
	}

	types, err := d.Store.ListTaskTypes(ctx)
	if err != nil {
		return err
	}
	nameByID := make(map[string]string, len(types))
	for _, tt := range types {
		nameByID[tt.ID] = tt.Name
	}

	if d.cursor == nil {
		d.cursor = make(map[string]int)
	}
	for _, typeID := range typeIDs {
		if err := d.dispatchType(ctx, typeID, nameByID[typeID]); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("task_type", nameByID[typeID]).Msg("dispatch failed for task type")
		}
	}
	return nil
}

// dispatchType drains pending tasks of one type, oldest first, round-robin
// over the capable alive workers. No capable worker means the tasks simply
// stay pending until one registers.
func (d *Dispatcher) dispatchType(ctx context.Context, typeID, typeName string) error {
	workers, err := d.Store.CapableWorkers(ctx, typeID)
	if err != nil {
		return err
	}
	if len(workers) == 0 {
		return nil
	}

	pending, err := d.Store.PendingByType(ctx, typeID, d.BatchSize)
	if err != nil {
		return err
	}
	for _, t := range pending {
		workerID := workers[d.cursor[typeID]%len(workers)]
		d.cursor[typeID]++
		if err := d.dispatchOne(ctx, t, typeName, workerID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, t domain.Task, typeName, workerID string) error {
	err := d.Store.AssignTask(ctx, t.ID, workerID)
	switch {
	case errors.Is(err, domain.ErrStaleTransition):
		// Another dispatcher (or a cancellation) got there first.
		log.Ctx(ctx).Debug().Str("task", t.ID).Msg("task already moved, skipping")
		return nil
	case errors.Is(err, domain.ErrWorkerNotCapable):
		// Capabilities changed between the worker query and the assignment.
		return nil
	case err != nil:
		return err
	}

	msg := ports.DispatchMessage{
		TaskID:   t.ID,
		TaskType: typeName,
		WorkerID: workerID,
		Input:    t.InputData,
	}

	// The publish is the one step outside the store transaction. The task is
	// already queued/assigned, and no worker failed, so the liveness path
	// cannot recover it: retry the publish, and only after exhaustion roll
	// the task back to pending.
	var publishErr error
	for attempt := 1; ; attempt++ {
		publishErr = d.Transport.PublishTask(ctx, msg)
		if publishErr == nil {
			log.Ctx(ctx).Info().
				Str("task", t.ID).
				Str("task_type", typeName).
				Str("worker", workerID).
				Msg("task dispatched")
			return nil
		}
		if attempt >= d.PublishAttempts {
			break
		}
		select {
		case <-ctx.Done():
			publishErr = ctx.Err()
		case <-time.After(backoff.ExponentialJitter(d.BaseBackoff, d.MaxBackoff, attempt)):
			continue
		}
		break
	}

	log.Ctx(ctx).Error().Err(publishErr).Str("task", t.ID).Msg("publish exhausted, rolling task back to pending")
	// ctx may already be cancelled on shutdown; the rollback must still land
	// or the task stays queued with nothing on the wire.
	relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if relErr := d.Store.ReleaseTask(relCtx, t.ID, workerID); relErr != nil && !errors.Is(relErr, domain.ErrStaleTransition) {
		return relErr
	}
	return publishErr
}
