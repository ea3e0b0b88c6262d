// Package api provides the HTTP surface of the focus daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/focus-labs/internal/bus"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/history"
	"github.com/ashureev/focus-labs/internal/session"
	"github.com/ashureev/focus-labs/internal/signal"
	"github.com/go-chi/chi/v5"
)

// Tracker is the tracking session as seen by the HTTP layer.
type Tracker interface {
	SelectTask(ctx context.Context, id string) error
	ClearTask(ctx context.Context)
	ActiveTaskID() string
	StartSampling()
	StopSampling()
	ConnectSource(ctx context.Context, kind domain.SourceKind) error
	DisconnectSource(ctx context.Context) error
	Status() domain.Status
}

// TaskStore is the task collection as seen by the HTTP layer.
type TaskStore interface {
	List(ctx context.Context) ([]domain.Task, error)
	Create(ctx context.Context, text string) (domain.Task, error)
	SetState(ctx context.Context, id string, state domain.TaskState) (history.StateChange, error)
	Delete(ctx context.Context, id string) error
}

// EventSource is the bus as seen by streaming clients.
type EventSource interface {
	Subscribe(l bus.Listener) (unsubscribe func())
	Since(id uint64) []bus.Event
}

// Handler serves the REST, SSE and WebSocket endpoints.
type Handler struct {
	tracker Tracker
	tasks   TaskStore
	events  EventSource
	logger  *slog.Logger

	keepalive  time.Duration
	retryDelay time.Duration
	origins    []string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithKeepalive sets the SSE keepalive ping interval.
func WithKeepalive(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.keepalive = d
		}
	}
}

// WithAllowedOrigins sets the origins accepted by the WebSocket endpoint.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		if len(origins) > 0 {
			h.origins = origins
		}
	}
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(tracker Tracker, tasks TaskStore, events EventSource, opts ...Option) *Handler {
	h := &Handler{
		tracker:    tracker,
		tasks:      tasks,
		events:     events,
		logger:     slog.Default(),
		keepalive:  10 * time.Second,
		retryDelay: 5 * time.Second,
		origins:    []string{"*"},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.GetStatus)

		r.Post("/session/task", h.SelectTask)
		r.Delete("/session/task", h.ClearTask)

		r.Post("/sampling/start", h.StartSampling)
		r.Post("/sampling/stop", h.StopSampling)

		r.Post("/source/connect", h.ConnectSource)
		r.Post("/source/disconnect", h.DisconnectSource)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Patch("/tasks/{id}", h.UpdateTask)
		r.Delete("/tasks/{id}", h.DeleteTask)

		r.Get("/stream", h.Stream)
	})
	r.Get("/ws", h.ServeWS)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a domain error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, history.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadBody),
		errors.Is(err, errBadSource),
		errors.Is(err, history.ErrInvalidState),
		errors.Is(err, history.ErrEmptyText),
		errors.Is(err, session.ErrEmptyTaskID),
		errors.Is(err, session.ErrUnknownSource):
		return http.StatusBadRequest
	case errors.Is(err, signal.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, signal.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, signal.ErrUnavailable), errors.Is(err, signal.ErrProtocolMismatch):
		return http.StatusBadGateway
	case errors.Is(err, history.ErrClosed), history.IsPersistence(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "status", status, "error", err)
	}
	Error(w, status, err.Error())
}

// stored reports whether a history error left the mutation applied in memory.
// Such writes are retried by the store and succeed from the caller's view.
func (h *Handler) stored(err error) bool {
	var pe *history.PersistenceError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.Op == "load" || pe.Op == "decode" {
		return false
	}
	h.logger.Warn("Task change kept in memory, storage write pending", "op", pe.Op, "error", pe.Err)
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

var (
	errBadBody   = errors.New("invalid request body")
	errBadSource = errors.New("unknown source kind")
)
