//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ashureev/focus-labs/internal/bus"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/history"
	"github.com/ashureev/focus-labs/internal/session"
	"github.com/ashureev/focus-labs/internal/signal"
	"github.com/ashureev/focus-labs/internal/store"
	"github.com/go-chi/chi/v5"
)

// fakeTracker records the calls the handlers make.
type fakeTracker struct {
	mu         sync.Mutex
	task       string
	sampling   bool
	source     domain.SourceKind
	connectErr error
	latest     *domain.Reading
	calls      []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{source: domain.SourceSimulated}
}

func (f *fakeTracker) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeTracker) SelectTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		return session.ErrEmptyTaskID
	}
	f.record("select:" + id)
	f.task = id
	return nil
}

func (f *fakeTracker) ClearTask(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("clear")
	f.task = ""
}

func (f *fakeTracker) ActiveTaskID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.task
}

func (f *fakeTracker) StartSampling() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	f.sampling = true
}

func (f *fakeTracker) StopSampling() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
	f.sampling = false
}

func (f *fakeTracker) ConnectSource(_ context.Context, kind domain.SourceKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("connect:" + string(kind))
	if f.connectErr != nil {
		return f.connectErr
	}
	f.source = kind
	return nil
}

func (f *fakeTracker) DisconnectSource(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("disconnect")
	f.source = domain.SourceSimulated
	return nil
}

func (f *fakeTracker) Status() domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := domain.Status{
		IsSampling:    f.sampling,
		ActiveTaskID:  f.task,
		ActiveSource:  f.source,
		LatestReading: f.latest,
		State:         domain.SessionIdle,
	}
	if f.sampling {
		st.State = domain.SessionSampling
	}
	return st
}

func (f *fakeTracker) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	tracker *fakeTracker
	tasks   *history.Store
	bus     *bus.Bus
	router  chi.Router
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "focus.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	tasks := history.NewStore(repo)
	t.Cleanup(func() {
		_ = tasks.Close()
		_ = repo.Close()
	})

	f := &fixture{
		tracker: newFakeTracker(),
		tasks:   tasks,
		bus:     bus.New(bus.DefaultRingSize, nil),
		router:  chi.NewRouter(),
	}
	NewHandler(f.tracker, f.tasks, f.bus, opts...).RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get x: %w", history.ErrTaskNotFound), http.StatusNotFound},
		{history.ErrEmptyText, http.StatusBadRequest},
		{history.ErrInvalidState, http.StatusBadRequest},
		{session.ErrEmptyTaskID, http.StatusBadRequest},
		{fmt.Errorf("x: %w", session.ErrUnknownSource), http.StatusBadRequest},
		{&signal.ConnectionError{Kind: signal.KindPermissionDenied, Source: domain.SourceBluetooth}, http.StatusForbidden},
		{&signal.ConnectionError{Kind: signal.KindTimeout, Source: domain.SourceBluetooth}, http.StatusGatewayTimeout},
		{&signal.ConnectionError{Kind: signal.KindUnavailable, Source: domain.SourceBridge}, http.StatusBadGateway},
		{&signal.ConnectionError{Kind: signal.KindProtocolMismatch, Source: domain.SourceBridge}, http.StatusBadGateway},
		{&history.PersistenceError{Op: "load", Err: errors.New("io")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	f.tracker.task = "t1"

	rec := f.do(t, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	st := decode[domain.Status](t, rec)
	if st.ActiveTaskID != "t1" || st.ActiveSource != domain.SourceSimulated {
		t.Errorf("status = %+v", st)
	}
}

func TestSessionTaskEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/session/task", map[string]string{"taskId": "t1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d", rec.Code)
	}
	if f.tracker.ActiveTaskID() != "t1" {
		t.Errorf("active task = %q", f.tracker.ActiveTaskID())
	}

	rec = f.do(t, http.MethodPost, "/api/session/task", map[string]string{"taskId": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty select status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/session/task", nil)
	if rec.Code != http.StatusOK || f.tracker.ActiveTaskID() != "" {
		t.Errorf("clear status = %d, task = %q", rec.Code, f.tracker.ActiveTaskID())
	}
}

func TestBadBody(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/session/task", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSamplingEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sampling/start", nil)
	if st := decode[domain.Status](t, rec); !st.IsSampling {
		t.Error("expected sampling after start")
	}
	rec = f.do(t, http.MethodPost, "/api/sampling/stop", nil)
	if st := decode[domain.Status](t, rec); st.IsSampling {
		t.Error("expected not sampling after stop")
	}
}

func TestConnectSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"permission", &signal.ConnectionError{Kind: signal.KindPermissionDenied, Source: domain.SourceBluetooth}, http.StatusForbidden},
		{"timeout", &signal.ConnectionError{Kind: signal.KindTimeout, Source: domain.SourceBluetooth}, http.StatusGatewayTimeout},
		{"unavailable", &signal.ConnectionError{Kind: signal.KindUnavailable, Source: domain.SourceBluetooth}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.tracker.connectErr = tt.err
			rec := f.do(t, http.MethodPost, "/api/source/connect", map[string]string{"source": "bluetooth"})
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestConnectUnknownSourceKind(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/source/connect", map[string]string{"source": "telepathy"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(f.tracker.Calls()) != 0 {
		t.Errorf("tracker should not be called, got %v", f.tracker.Calls())
	}
}

func TestDisconnectSource(t *testing.T) {
	f := newFixture(t)
	f.tracker.source = domain.SourceBridge
	rec := f.do(t, http.MethodPost, "/api/source/disconnect", nil)
	if st := decode[domain.Status](t, rec); st.ActiveSource != domain.SourceSimulated {
		t.Errorf("active source = %s", st.ActiveSource)
	}
}

func TestTaskLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/tasks", map[string]string{"text": "write report"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	created := decode[taskView](t, rec)
	if created.ID == "" || created.State != domain.TaskStateTodo || created.Active {
		t.Fatalf("created = %+v", created)
	}

	rec = f.do(t, http.MethodPatch, "/api/tasks/"+created.ID, map[string]string{"state": "doing"})
	if rec.Code != http.StatusOK {
		t.Fatalf("doing status = %d", rec.Code)
	}
	if got := decode[taskView](t, rec); !got.Active || got.State != domain.TaskStateDoing {
		t.Errorf("after doing = %+v", got)
	}
	if f.tracker.ActiveTaskID() != created.ID {
		t.Errorf("doing should select the task")
	}

	rec = f.do(t, http.MethodPatch, "/api/tasks/"+created.ID, map[string]string{"state": "done"})
	if rec.Code != http.StatusOK {
		t.Fatalf("done status = %d", rec.Code)
	}
	if f.tracker.ActiveTaskID() != "" {
		t.Errorf("leaving doing should clear the selection")
	}

	rec = f.do(t, http.MethodGet, "/api/tasks", nil)
	list := decode[[]taskView](t, rec)
	if len(list) != 1 || list[0].State != domain.TaskStateDone {
		t.Errorf("list = %+v", list)
	}
}

func TestUpdateTaskErrors(t *testing.T) {
	f := newFixture(t)
	task, err := f.tasks.Create(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"state": "paused"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid state status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodPatch, "/api/tasks/missing", map[string]string{"state": "doing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing task status = %d, want 404", rec.Code)
	}
	if f.tracker.ActiveTaskID() != "" {
		t.Error("failed update must not select")
	}
}

func TestCreateTaskEmptyText(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/tasks", map[string]string{"text": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteActiveTaskClearsSelection(t *testing.T) {
	f := newFixture(t)
	task, err := f.tasks.Create(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	f.tracker.task = task.ID

	rec := f.do(t, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.tracker.ActiveTaskID() != "" {
		t.Error("deleting the active task should clear the selection")
	}

	rec = f.do(t, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestDeleteOtherTaskKeepsSelection(t *testing.T) {
	f := newFixture(t)
	task, err := f.tasks.Create(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	f.tracker.task = "other"

	f.do(t, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	if f.tracker.ActiveTaskID() != "other" {
		t.Error("selection should be unchanged")
	}
}
