package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"taskq/internal/ports"
)

// Handler executes one task of a registered kind.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

type Config struct {
	// ID is the worker's stable identity for its process lifetime. Left
	// empty, the manager assigns one at registration; a restart with a new
	// id is a new worker.
	ID   string
	Name string

	HeartbeatInterval time.Duration
	ClaimBlock        time.Duration
}

// Application is the worker runtime: it registers its handler kinds as
// capabilities, heartbeats, consumes dispatched tasks per kind and publishes
// outcomes to the result queue.
type Application struct {
	cfg       Config
	manager   *ManagerClient
	transport ports.Transport
	handlers  map[string]Handler

	id string
}

func New(cfg Config, manager *ManagerClient, transport ports.Transport) *Application {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.ClaimBlock <= 0 {
		cfg.ClaimBlock = 5 * time.Second
	}
	return &Application{
		cfg:       cfg,
		manager:   manager,
		transport: transport,
		handlers:  make(map[string]Handler),
	}
}

// RegisterHandler declares the worker can execute tasks of the given kind.
// All handlers must be registered before Run.
func (a *Application) RegisterHandler(kind string, h Handler) {
	a.handlers[kind] = h
}

func (a *Application) Run(ctx context.Context) error {
	kinds := make([]string, 0, len(a.handlers))
	for kind := range a.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	w, err := a.manager.Register(ctx, a.cfg.ID, a.cfg.Name, kinds)
	if err != nil {
		return err
	}
	a.id = w.ID
	log.Ctx(ctx).Info().Str("worker", a.id).Strs("kinds", kinds).Msg("worker registered")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(ctx)
	}()
	for _, kind := range kinds {
		wg.Add(1)
		go func(kind string) {
			defer wg.Done()
			a.consumeLoop(ctx, kind)
		}(kind)
	}
	wg.Wait()

	// Unregister with a fresh context; ctx is already cancelled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.manager.Unregister(shutdownCtx, a.id); err != nil {
		log.Warn().Err(err).Str("worker", a.id).Msg("unregister failed")
	}
	return ctx.Err()
}

func (a *Application) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.manager.Heartbeat(ctx, a.id); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (a *Application) consumeLoop(ctx context.Context, kind string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, deliveryID, err := a.transport.ClaimTask(ctx, kind, a.id, a.cfg.ClaimBlock)
		if err != nil {
			if msg == nil && deliveryID != "" {
				log.Ctx(ctx).Error().Err(err).Str("delivery", deliveryID).Msg("dropping malformed dispatch message")
				_ = a.transport.AckTask(ctx, kind, deliveryID)
				continue
			}
			if ctx.Err() == nil {
				log.Ctx(ctx).Error().Err(err).Str("kind", kind).Msg("claim task failed")
			}
			continue
		}
		if msg == nil {
			continue
		}
		a.execute(ctx, kind, *msg, deliveryID)
	}
}

func (a *Application) execute(ctx context.Context, kind string, msg ports.DispatchMessage, deliveryID string) {
	handler, ok := a.handlers[kind]
	if !ok {
		log.Ctx(ctx).Error().Str("kind", kind).Msg("no handler for dispatched kind")
		_ = a.transport.AckTask(ctx, kind, deliveryID)
		return
	}

	// Best-effort start signal; a conflict means the task was reclaimed or
	// finished elsewhere, and the guarded finalize will sort that out.
	if err := a.manager.StartTask(ctx, msg.TaskID, a.id); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("task", msg.TaskID).Msg("start signal rejected")
	}

	output, handlerErr := handler(ctx, msg.Input)

	result := ports.ResultMessage{
		TaskID:   msg.TaskID,
		WorkerID: a.id,
		Success:  handlerErr == nil,
		Output:   output,
	}
	if handlerErr != nil {
		result.Error, _ = json.Marshal(map[string]string{"message": handlerErr.Error()})
		log.Ctx(ctx).Warn().Err(handlerErr).Str("task", msg.TaskID).Msg("task handler failed")
	}

	if err := a.transport.PublishResult(ctx, result); err != nil {
		// Leave the dispatch unacked: redelivery re-runs the task and the
		// reconciler drops any duplicate outcome.
		log.Ctx(ctx).Error().Err(err).Str("task", msg.TaskID).Msg("publish result failed, leaving dispatch for redelivery")
		return
	}
	if err := a.transport.AckTask(ctx, kind, deliveryID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("task", msg.TaskID).Msg("ack dispatch failed")
	}
}
