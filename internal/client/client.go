// Package client talks to a running focusd over its HTTP and WebSocket API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/focus-labs/internal/bus"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// DefaultAddr is the daemon's default base URL.
const DefaultAddr = "http://localhost:8787"

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("focusd returned %d: %s", e.Status, e.Message)
}

// Task is a task as listed by the daemon.
type Task struct {
	domain.Task
	AverageAttention float64 `json:"averageAttention"`
	Active           bool    `json:"active"`
}

// Client is a focusd API client.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the daemon at addr.
func New(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// Status fetches the session status.
func (c *Client) Status(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// StartSampling starts the sampling loop.
func (c *Client) StartSampling(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodPost, "/api/sampling/start", nil, &st)
	return st, err
}

// StopSampling stops the sampling loop.
func (c *Client) StopSampling(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodPost, "/api/sampling/stop", nil, &st)
	return st, err
}

// SelectTask makes id the active task.
func (c *Client) SelectTask(ctx context.Context, id string) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodPost, "/api/session/task", map[string]string{"taskId": id}, &st)
	return st, err
}

// ClearTask deselects the active task.
func (c *Client) ClearTask(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodDelete, "/api/session/task", nil, &st)
	return st, err
}

// Connect connects a signal source.
func (c *Client) Connect(ctx context.Context, kind domain.SourceKind) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodPost, "/api/source/connect", map[string]string{"source": string(kind)}, &st)
	return st, err
}

// Disconnect reverts to the simulated source.
func (c *Client) Disconnect(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodPost, "/api/source/disconnect", nil, &st)
	return st, err
}

// Tasks lists every task.
func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &tasks)
	return tasks, err
}

// AddTask creates a task.
func (c *Client) AddTask(ctx context.Context, text string) (Task, error) {
	var t Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", map[string]string{"text": text}, &t)
	return t, err
}

// SetTaskState moves a task to state.
func (c *Client) SetTaskState(ctx context.Context, id string, state domain.TaskState) (Task, error) {
	var t Task
	err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), map[string]string{"state": string(state)}, &t)
	return t, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// Watch streams bus events over the WebSocket until ctx is done or fn
// returns an error. Command replies are skipped.
func (c *Client) Watch(ctx context.Context, fn func(bus.Event) error) error {
	u, err := url.Parse(c.base + "/ws")
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var e bus.Event
		if err := wsjson.Read(ctx, conn, &e); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if e.ID == 0 || e.Type == "" {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
