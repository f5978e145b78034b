package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"taskq/internal/api"
	"taskq/internal/config"
	"taskq/internal/infra/redisq"
	"taskq/internal/infra/sqlstore"
	"taskq/internal/usecase"
)

func managerCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "manager",
		Short: "Start the manager: API, dispatcher, liveness detector and result reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			cfg := config.Load()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := sqlstore.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			transport := redisq.New(cfg.Redis)
			if err := transport.Init(ctx); err != nil {
				return err
			}

			dispatcher := &usecase.Dispatcher{
				Store:           store,
				Transport:       transport,
				Interval:        cfg.Dispatch.Interval,
				BatchSize:       cfg.Dispatch.BatchSize,
				PublishAttempts: cfg.Dispatch.PublishAttempts,
				BaseBackoff:     cfg.Dispatch.BaseBackoff,
				MaxBackoff:      cfg.Dispatch.MaxBackoff,
			}
			detector := usecase.Detector{
				Store:            store,
				HeartbeatTimeout: cfg.Liveness.HeartbeatTimeout,
				DeathTimeout:     cfg.Liveness.DeathTimeout,
				Interval:         cfg.Liveness.SweepInterval,
			}
			reconciler := usecase.Reconciler{
				Store:        store,
				Transport:    transport,
				ConsumerName: "manager",
			}

			// Independent control loops; the store's conditional updates keep
			// their races safe without any shared lock.
			go func() {
				if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
					log.Ctx(ctx).Error().Err(err).Msg("dispatcher stopped with error")
				}
			}()
			go func() {
				if err := detector.Run(ctx); err != nil && ctx.Err() == nil {
					log.Ctx(ctx).Error().Err(err).Msg("liveness detector stopped with error")
				}
			}()
			go func() {
				if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
					log.Ctx(ctx).Error().Err(err).Msg("reconciler stopped with error")
				}
			}()

			server := api.NewServer(store, transport)
			server.Run(ctx, port)
			return nil
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the manager API on")
	return command
}
