package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/focus-labs/internal/bus"
	"github.com/go-chi/chi/v5/middleware"
)

const streamMailboxSize = 64

// Stream serves bus events as Server-Sent Events. A reconnecting client sends
// Last-Event-ID (or ?lastEventId=) and receives the events it missed that are
// still in the replay log.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	lastEventID := uint64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseUint(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			h.logger.Info("SSE client reconnecting with Last-Event-ID", "request_id", reqID, "last_event_id", lastEventID)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.retryDelay.Milliseconds()); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err, "request_id", reqID)
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	mb := bus.NewMailbox("sse:"+reqID, streamMailboxSize, h.logger)
	unsubscribe := h.events.Subscribe(mb)
	defer func() {
		unsubscribe()
		mb.Close()
		h.logger.Info("SSE connection closed", "request_id", reqID, "dropped", mb.Dropped())
	}()

	sent := lastEventID
	if lastEventID > 0 {
		missed := h.events.Since(lastEventID)
		if len(missed) > 0 {
			h.logger.Info("Sending missed events", "request_id", reqID, "count", len(missed))
		}
		for _, e := range missed {
			if err := writeEvent(w, e); err != nil {
				return
			}
			sent = e.ID
		}
	}

	status, err := json.Marshal(h.tracker.Status())
	if err != nil {
		return
	}
	if err := writeSSE(w, "status", string(status)); err != nil {
		h.logger.Warn("failed to write SSE status event", "error", err, "request_id", reqID)
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-mb.C():
			if e.ID <= sent {
				continue
			}
			if err := writeEvent(w, e); err != nil {
				h.logger.Debug("SSE write failed", "error", err, "request_id", reqID)
				return
			}
			sent = e.ID
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "request_id", reqID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, e bus.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return writeSSEWithID(w, e.ID, string(e.Type), string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id uint64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
