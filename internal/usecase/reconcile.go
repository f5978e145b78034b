package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"taskq/internal/domain"
	"taskq/internal/ports"
)

// Reconciler consumes worker-reported outcomes from the result queue and
// finalizes tasks. Messages are acked only after the outcome is durably
// recorded or deliberately discarded, so broker redelivery after a crash is
// expected and handled idempotently.
type Reconciler struct {
	Store        ports.Store
	Transport    ports.Transport
	ConsumerName string
}

func (r Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, id, err := r.Transport.ClaimResult(ctx, r.ConsumerName, 5*time.Second)
		if err != nil {
			if msg == nil && id != "" {
				// Undecodable message; ack it out of the queue rather than
				// redelivering it forever.
				log.Ctx(ctx).Error().Err(err).Str("delivery", id).Msg("dropping malformed result message")
				_ = r.Transport.AckResult(ctx, id)
				continue
			}
			log.Ctx(ctx).Error().Err(err).Msg("claim result failed")
			continue
		}
		if msg == nil {
			continue
		}
		r.apply(ctx, *msg, id)
	}
}

func (r Reconciler) apply(ctx context.Context, msg ports.ResultMessage, deliveryID string) {
	_, err := r.Store.FinalizeTask(ctx, msg.TaskID, msg.WorkerID, msg.Success, msg.Output, msg.Error)
	switch {
	case err == nil:
		log.Ctx(ctx).Info().
			Str("task", msg.TaskID).
			Str("worker", msg.WorkerID).
			Bool("success", msg.Success).
			Msg("task finalized")

	case errors.Is(err, domain.ErrDuplicateResult):
		// Redelivery or a race already resolved; the single recorded result
		// stands and the report is acked as a no-op.
		log.Ctx(ctx).Debug().Str("task", msg.TaskID).Msg("duplicate result acknowledged")

	case errors.Is(err, domain.ErrOrphanedResult):
		// The task was reclaimed and possibly reassigned; the current owner's
		// result is authoritative, this late one is discarded.
		log.Ctx(ctx).Warn().
			Str("task", msg.TaskID).
			Str("worker", msg.WorkerID).
			Msg("discarding result from reclaimed task")

	case errors.Is(err, domain.ErrTaskNotFound):
		log.Ctx(ctx).Error().Str("task", msg.TaskID).Msg("result for unknown task")

	default:
		// Transient store failure: leave the message unacked so the broker
		// redelivers it.
		log.Ctx(ctx).Error().Err(err).Str("task", msg.TaskID).Msg("finalize failed, leaving for redelivery")
		return
	}

	if err := r.Transport.AckResult(ctx, deliveryID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("delivery", deliveryID).Msg("ack result failed")
	}
}
