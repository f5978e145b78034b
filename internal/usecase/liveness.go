package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"taskq/internal/ports"
)

// Detector is the liveness sweep loop. Worker status is store-resident and
// derived from the latest recorded heartbeat plus the two thresholds, so any
// number of detector instances reach the same verdicts.
type Detector struct {
	Store ports.Store

	HeartbeatTimeout time.Duration
	DeathTimeout     time.Duration
	Interval         time.Duration
}

func (d Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d Detector) sweep(ctx context.Context) {
	report, err := d.Store.SweepLiveness(ctx, time.Now(), d.HeartbeatTimeout, d.DeathTimeout)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("liveness sweep failed")
		return
	}
	for _, id := range report.Suspected {
		log.Ctx(ctx).Warn().Str("worker", id).Msg("worker suspected, heartbeat overdue")
	}
	for _, id := range report.Dead {
		log.Ctx(ctx).Warn().Str("worker", id).Msg("worker declared dead")
	}
	if report.Reclaimed > 0 {
		log.Ctx(ctx).Info().Int("tasks", report.Reclaimed).Msg("reclaimed tasks from dead workers")
	}
}
