package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"taskq/internal/domain"
	"taskq/internal/ports"
	"taskq/internal/usecase"
)

type submitReq struct {
	Type  string          `json:"type"`
	Input json.RawMessage `json:"input"`
}

type registerReq struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

type heartbeatReq struct {
	Timestamp *int64 `json:"timestamp_ms,omitempty"`
}

type createTypeReq struct {
	Name string `json:"name"`
}

type taskResp struct {
	domain.Task
	Result *domain.TaskResult `json:"result,omitempty"`
}

// Server exposes the submission and worker boundaries over HTTP. Dispatch,
// liveness and reconciliation run as separate loops; the API only creates
// state for them to act on.
type Server struct {
	router    *chi.Mux
	store     ports.Store
	submitter usecase.Submitter
	registrar usecase.Registrar
}

func NewServer(store ports.Store, transport ports.Transport) *Server {
	s := &Server{
		store:     store,
		submitter: usecase.Submitter{Store: store},
		registrar: usecase.Registrar{Store: store, Transport: transport},
	}

	r := chi.NewRouter()
	r.Post("/task-types", s.handleCreateTaskType)
	r.Get("/task-types", s.handleListTaskTypes)
	r.Post("/tasks", s.handleSubmit)
	r.Get("/tasks/{id}", s.handleGetTask)
	r.Post("/tasks/{id}/cancel", s.handleCancel)
	r.Post("/tasks/{id}/start", s.handleStart)
	r.Post("/workers", s.handleRegister)
	r.Get("/workers", s.handleListWorkers)
	r.Post("/workers/{id}/heartbeat", s.handleHeartbeat)
	r.Delete("/workers/{id}", s.handleUnregister)
	s.router = r
	return s
}

// Handler exposes the routed handler without the outer middleware chain.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleCreateTaskType(w http.ResponseWriter, r *http.Request) {
	var req createTypeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid task type", http.StatusBadRequest)
		return
	}
	tt, err := s.store.CreateTaskType(r.Context(), req.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tt)
}

func (s *Server) handleListTaskTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.store.ListTaskTypes(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.submitter.Submit(r.Context(), req.Type, req.Input)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := taskResp{Task: *t}
	if t.Status == domain.StatusCompleted || t.Status == domain.StatusFailed {
		if res, err := s.store.GetResult(r.Context(), t.ID); err == nil {
			resp.Result = res
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.submitter.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusCancelled)})
}

type startReq struct {
	WorkerID string `json:"worker_id"`
}

// handleStart is the optional execution-start signal: queued → running,
// guarded on the task still being assigned to the reporting worker. Workers
// may skip it and go straight from queued to a terminal state.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" {
		http.Error(w, "invalid start signal", http.StatusBadRequest)
		return
	}
	if err := s.store.StartTask(r.Context(), chi.URLParam(r, "id"), req.WorkerID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusRunning)})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid registration", http.StatusBadRequest)
		return
	}
	worker, err := s.registrar.Register(r.Context(), req.ID, req.Name, req.Capabilities)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.store.ListWorkers(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	at := time.Now()
	if req.Timestamp != nil {
		at = time.UnixMilli(*req.Timestamp)
	}
	if err := s.registrar.Heartbeat(r.Context(), chi.URLParam(r, "id"), at); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := s.registrar.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrWorkerNotFound),
		errors.Is(err, domain.ErrUnknownTaskType):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCapability):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrStaleTransition):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// Run method of the Server struct runs the HTTP server on the specified port
// and shuts it down gracefully when ctx is cancelled.
func (s *Server) Run(ctx context.Context, port int) {
	addr := fmt.Sprintf(":%d", port)

	h := chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/" }),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	go func() {
		<-ctx.Done()
		log.Info().Msg("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
