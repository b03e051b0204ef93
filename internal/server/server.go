// Package server exposes the sync core to local UI clients over HTTP and
// websocket. This is the presentation surface: enqueue, queue inspection,
// status and notifications. No business CRUD lives here.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fieldsync/fieldsync/internal/connectivity"
	"github.com/fieldsync/fieldsync/internal/engine"
	apperrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/store"
)

// Server wires the engine into HTTP handlers.
type Server struct {
	engine  *engine.Engine
	monitor *connectivity.Monitor
	hub     *Hub
}

// New creates a Server. The hub should be the same one registered as the
// engine's notifier so UI clients see batch toasts.
func New(eng *engine.Engine, monitor *connectivity.Monitor, hub *Hub) *Server {
	return &Server{engine: eng, monitor: monitor, hub: hub}
}

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/status", s.handleStatus)
	r.Post("/sync", s.handleSync)

	r.Route("/queue", func(r chi.Router) {
		r.Post("/", s.handleEnqueue)
		r.Get("/", s.handleList)
		r.Get("/count", s.handleCount)
		r.Post("/retry", s.handleRetry)
		r.Post("/{id}/discard", s.handleDiscard)
	})

	r.Get("/ws", s.hub.ServeHTTP)
	return r
}

// enqueueRequest is the UI write-path body.
type enqueueRequest struct {
	EntityType string          `json:"entity_type"`
	Kind       string          `json:"kind"`
	TargetID   string          `json:"target_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "malformed request body", err))
		return
	}

	op, err := s.engine.Enqueue(store.NewOperationRequest{
		EntityType: req.EntityType,
		Kind:       models.OperationKind(req.Kind),
		TargetID:   req.TargetID,
		Payload:    req.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.Broadcast(EventQueueEnqueued, map[string]any{
		"id": op.ID, "entity_type": op.EntityType, "kind": op.Kind,
	})
	writeJSON(w, http.StatusCreated, op)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{EntityType: r.URL.Query().Get("entity_type")}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Statuses = []models.OperationStatus{models.OperationStatus(status)}
	}

	ops, err := s.engine.Store().List(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if ops == nil {
		ops = []*models.QueuedOperation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleCount(w http.ResponseWriter, _ *http.Request) {
	count, err := s.engine.Reporter().PendingCount()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": count})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Discard(id); err != nil {
		writeError(w, err)
		return
	}
	s.hub.Broadcast(EventQueueDiscarded, map[string]any{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	n, err := s.engine.Store().RetryFailed()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": n})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.hub.Broadcast(EventSyncStarted, map[string]any{"trigger": "manual"})
	result, err := s.engine.DrainNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// statusResponse is the /status payload consumed by status widgets.
type statusResponse struct {
	State        engine.State   `json:"state"`
	IsOnline     bool           `json:"is_online"`
	LastOnlineAt *int64         `json:"last_online_at,omitempty"`
	Pending      int            `json:"pending"`
	LastBatch    any            `json:"last_batch,omitempty"`
	Counters     any            `json:"counters"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	pending, err := s.engine.Reporter().PendingCount()
	if err != nil {
		writeError(w, err)
		return
	}

	conn := s.monitor.Status()
	resp := statusResponse{
		State:    s.engine.State(),
		IsOnline: conn.IsOnline,
		Pending:  pending,
		Counters: s.engine.Counters().Snapshot(),
	}
	if conn.LastOnlineAt != nil {
		ts := conn.LastOnlineAt.Unix()
		resp.LastOnlineAt = &ts
	}
	if result, at, ok := s.engine.LastResult(); ok {
		resp.LastBatch = map[string]any{"result": result, "at": at.Unix()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps application error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apperrors.ErrInternal

	if appErr, ok := err.(*apperrors.AppError); ok {
		code = appErr.Code
		switch appErr.Code {
		case apperrors.ErrValidation, apperrors.ErrInvalid:
			status = http.StatusBadRequest
		case apperrors.ErrOpNotFound, apperrors.ErrNotFound:
			status = http.StatusNotFound
		case apperrors.ErrStoreClosed:
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}
