package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ashureev/focus-labs/internal/domain"
)

type selectTaskRequest struct {
	TaskID string `json:"taskId"`
}

type connectSourceRequest struct {
	Source domain.SourceKind `json:"source"`
}

// GetStatus returns the tracking session status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.tracker.Status())
}

// SelectTask makes the given task active.
func (h *Handler) SelectTask(w http.ResponseWriter, r *http.Request) {
	var req selectTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.tracker.SelectTask(r.Context(), req.TaskID); err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, h.tracker.Status())
}

// ClearTask deselects the active task.
func (h *Handler) ClearTask(w http.ResponseWriter, r *http.Request) {
	h.tracker.ClearTask(r.Context())
	JSON(w, http.StatusOK, h.tracker.Status())
}

// StartSampling starts the sampling loop.
func (h *Handler) StartSampling(w http.ResponseWriter, r *http.Request) {
	h.tracker.StartSampling()
	JSON(w, http.StatusOK, h.tracker.Status())
}

// StopSampling stops the sampling loop.
func (h *Handler) StopSampling(w http.ResponseWriter, r *http.Request) {
	h.tracker.StopSampling()
	JSON(w, http.StatusOK, h.tracker.Status())
}

// ConnectSource connects a signal source and makes it active.
func (h *Handler) ConnectSource(w http.ResponseWriter, r *http.Request) {
	var req connectSourceRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.connect(r.Context(), req.Source); err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, h.tracker.Status())
}

// DisconnectSource disconnects the active source, reverting to simulated.
func (h *Handler) DisconnectSource(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.DisconnectSource(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, h.tracker.Status())
}

func (h *Handler) connect(ctx context.Context, kind domain.SourceKind) error {
	if !kind.Valid() {
		return fmt.Errorf("source %q: %w", kind, errBadSource)
	}
	h.logger.Info("Source connect requested", "source", string(kind))
	return h.tracker.ConnectSource(ctx, kind)
}
