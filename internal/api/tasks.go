package api

import (
	"net/http"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/go-chi/chi/v5"
)

type taskView struct {
	domain.Task
	AverageAttention float64 `json:"averageAttention"`
	Active           bool    `json:"active"`
}

type createTaskRequest struct {
	Text string `json:"text"`
}

type updateTaskRequest struct {
	State domain.TaskState `json:"state"`
}

func (h *Handler) view(t domain.Task) taskView {
	return taskView{
		Task:             t,
		AverageAttention: t.AverageAttention(),
		Active:           t.ID != "" && t.ID == h.tracker.ActiveTaskID(),
	}
}

// ListTasks returns every task, newest first.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, h.view(t))
	}
	JSON(w, http.StatusOK, out)
}

// CreateTask adds a task in the todo state.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	task, err := h.tasks.Create(r.Context(), req.Text)
	if err != nil && !h.stored(err) {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, h.view(task))
}

// UpdateTask moves a task to a new state. Entering doing selects the task;
// the active task leaving doing clears the selection.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	change, err := h.tasks.SetState(r.Context(), id, req.State)
	if err != nil && !h.stored(err) {
		h.writeError(w, err)
		return
	}

	switch {
	case req.State == domain.TaskStateDoing:
		if err := h.tracker.SelectTask(r.Context(), id); err != nil {
			h.writeError(w, err)
			return
		}
	case h.tracker.ActiveTaskID() == id:
		h.tracker.ClearTask(r.Context())
	}

	h.logger.Info("Task state changed", "task_id", id, "from", string(change.Previous), "to", string(req.State))
	JSON(w, http.StatusOK, h.view(change.Task))
}

// DeleteTask removes a task, clearing the selection if it was active.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.tasks.Delete(r.Context(), id); err != nil && !h.stored(err) {
		h.writeError(w, err)
		return
	}
	if h.tracker.ActiveTaskID() == id {
		h.tracker.ClearTask(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}
