package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"taskq/internal/config"
	"taskq/internal/infra/redisq"
	"taskq/internal/worker"
)

func workerCmd() *cobra.Command {
	var (
		name              string
		managerURL        string
		kinds             []string
		heartbeatInterval time.Duration
	)

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start a demo worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			cfg := config.Load()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			transport := redisq.New(cfg.Redis)
			if err := transport.Connect(ctx); err != nil {
				return err
			}

			app := worker.New(worker.Config{
				Name:              name,
				HeartbeatInterval: heartbeatInterval,
			}, worker.NewManagerClient(managerURL), transport)

			for _, kind := range kinds {
				app.RegisterHandler(kind, demoHandler(kind))
			}

			err := app.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	command.Flags().StringVar(&name, "name", "worker-1", "Worker name")
	command.Flags().StringVar(&managerURL, "manager", "http://localhost:8080", "Manager base URL")
	command.Flags().StringSliceVar(&kinds, "kinds", []string{"demo.echo"}, "Task kinds this worker executes")
	command.Flags().DurationVar(&heartbeatInterval, "heartbeat-interval", 10*time.Second, "Heartbeat interval")

	return command
}

func demoHandler(kind string) worker.Handler {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		if kind == "demo.fail" {
			return nil, errors.New("simulated failure")
		}
		return json.Marshal(map[string]any{"kind": kind, "echo": input})
	}
}
