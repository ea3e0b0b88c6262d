package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/focus-labs/internal/bus"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/middleware"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const (
	wsMailboxSize   = 64
	wsWriteTimeout  = 5 * time.Second
	wsActionTimeout = 30 * time.Second
)

// Actions accepted on the WebSocket, mirroring the extension runtime messages.
// The tracking actions only select or clear the task; sampling has its own
// attention-tracking actions.
const (
	ActionStartTracking          = "startTracking"
	ActionStopTracking           = "stopTracking"
	ActionStartAttentionTracking = "startAttentionTracking"
	ActionStopAttentionTracking  = "stopAttentionTracking"
	ActionGetTrackingStatus      = "getTrackingStatus"
	ActionGetLatestFocusData     = "getLatestFocusData"
	ActionConnectMuse            = "connectMuse"
	ActionConnectBridge          = "connectBridge"
	ActionDisconnectSource       = "disconnectSource"
	ActionPing                   = "ping"
)

// Command is an inbound WebSocket message.
type Command struct {
	Action    string `json:"action"`
	RequestID string `json:"requestId,omitempty"`
	TodoID    string `json:"todoId,omitempty"`
}

// Reply answers one Command.
type Reply struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	RequestID string `json:"requestId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ServeWS upgrades to a WebSocket that streams bus events and accepts
// tracking commands.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	reqID := chimw.GetReqID(r.Context())

	if origin := r.Header.Get("Origin"); origin != "" && !middleware.OriginAllowed(h.origins, origin) {
		h.logger.Warn("WebSocket origin rejected", "origin", origin)
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "request_id", reqID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "request_id", reqID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	mb := bus.NewMailbox("ws:"+reqID, wsMailboxSize, h.logger)
	unsubscribe := h.events.Subscribe(mb)
	defer func() {
		unsubscribe()
		mb.Close()
	}()

	if err := h.writeWS(ctx, ws, Reply{Type: "status", Action: ActionGetTrackingStatus, Success: true, Data: h.tracker.Status()}); err != nil {
		return
	}

	go func() {
		defer cancel()
		h.outputLoop(ctx, ws, mb)
	}()

	h.inputLoop(ctx, ws)
	h.logger.Info("WebSocket session ended", "request_id", reqID)
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed by client")
			} else {
				h.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			if err := h.writeWS(ctx, ws, Reply{Type: "response", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		reply := h.dispatch(ctx, cmd)
		if err := h.writeWS(ctx, ws, reply); err != nil {
			return
		}
	}
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, mb *bus.Mailbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-mb.Done():
			return
		case e := <-mb.C():
			if err := h.writeWS(ctx, ws, e); err != nil {
				h.logger.Debug("WebSocket event write failed", "error", err)
				return
			}
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, cmd Command) Reply {
	reply := Reply{Type: "response", Action: cmd.Action, RequestID: cmd.RequestID}

	actx, cancel := context.WithTimeout(ctx, wsActionTimeout)
	defer cancel()

	var err error
	switch cmd.Action {
	case ActionStartTracking:
		err = h.tracker.SelectTask(actx, cmd.TodoID)
	case ActionStopTracking:
		h.tracker.ClearTask(actx)
	case ActionStartAttentionTracking:
		h.tracker.StartSampling()
	case ActionStopAttentionTracking:
		h.tracker.StopSampling()
	case ActionGetTrackingStatus:
		reply.Data = h.tracker.Status()
	case ActionGetLatestFocusData:
		if st := h.tracker.Status(); st.LatestReading != nil {
			reply.Data = st.LatestReading
		}
	case ActionConnectMuse:
		err = h.connect(actx, domain.SourceBluetooth)
	case ActionConnectBridge:
		err = h.connect(actx, domain.SourceBridge)
	case ActionDisconnectSource:
		err = h.tracker.DisconnectSource(actx)
	case ActionPing:
		reply.Type = "pong"
	default:
		reply.Error = "unknown action"
		return reply
	}

	if err != nil {
		h.logger.Warn("WebSocket action failed", "action", cmd.Action, "error", err)
		reply.Error = err.Error()
		return reply
	}
	reply.Success = true
	return reply
}

func (h *Handler) writeWS(ctx context.Context, ws *websocket.Conn, v any) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, ws, v)
}
