// Package history owns the persisted task collection and each task's bounded
// attention history.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/clock"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/store"
	"github.com/google/uuid"
)

// DefaultLimit is the number of samples kept per task (about ten minutes at 1Hz).
const DefaultLimit = 300

const (
	requestQueueSize = 64
	writeTimeout     = 5 * time.Second
)

// mutation transforms a copy of the collection. It returns the new collection,
// a value for the caller, and whether anything changed.
type mutation func(tasks []domain.Task) ([]domain.Task, any, bool, error)

type request struct {
	ctx   context.Context
	op    string
	apply mutation
	reply chan result
}

type result struct {
	value any
	err   error
}

// Store serializes every read-modify-write of the task collection through a
// single writer goroutine, so concurrent appends never lose each other's updates.
type Store struct {
	repo   store.Repository
	slot   string
	limit  int
	clock  clock.Clock
	logger *slog.Logger

	reqs    chan request
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// Owned by the writer goroutine.
	tasks  []domain.Task
	loaded bool
	dirty  bool
}

// Option configures a Store.
type Option func(*Store)

// WithLimit sets the per-task history bound.
func WithLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithClock sets the clock used for task creation times.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a store over repo and starts its writer.
func NewStore(repo store.Repository, opts ...Option) *Store {
	s := &Store{
		repo:    repo,
		slot:    store.SlotTodos,
		limit:   DefaultLimit,
		clock:   clock.System{},
		logger:  slog.Default(),
		reqs:    make(chan request, requestQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.writer()
	return s
}

// Limit returns the per-task history bound.
func (s *Store) Limit() int {
	return s.limit
}

// Append records one accepted sample for taskID.
func (s *Store) Append(ctx context.Context, taskID string, score int) error {
	_, err := s.submit(ctx, "append", func(tasks []domain.Task) ([]domain.Task, any, bool, error) {
		i := indexOf(tasks, taskID)
		if i < 0 {
			return tasks, nil, false, fmt.Errorf("append to %s: %w", taskID, ErrTaskNotFound)
		}
		tasks[i].RecordSample(score, s.limit)
		return tasks, nil, true, nil
	})
	return err
}

// Create adds a new task at the front of the collection.
func (s *Store) Create(ctx context.Context, text string) (domain.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Task{}, ErrEmptyText
	}
	v, err := s.submit(ctx, "create", func(tasks []domain.Task) ([]domain.Task, any, bool, error) {
		task := domain.Task{
			ID:               uuid.NewString(),
			Text:             text,
			State:            domain.TaskStateTodo,
			CreatedAt:        s.clock.Now().UTC(),
			AttentionHistory: []int{},
		}
		return append([]domain.Task{task}, tasks...), task, true, nil
	})
	task, _ := v.(domain.Task)
	return task, err
}

// List returns a copy of every task.
func (s *Store) List(ctx context.Context) ([]domain.Task, error) {
	v, err := s.submit(ctx, "list", func(tasks []domain.Task) ([]domain.Task, any, bool, error) {
		return tasks, cloneTasks(tasks), false, nil
	})
	tasks, _ := v.([]domain.Task)
	return tasks, err
}

// Get returns a copy of one task.
func (s *Store) Get(ctx context.Context, id string) (domain.Task, error) {
	v, err := s.submit(ctx, "get", func(tasks []domain.Task) ([]domain.Task, any, bool, error) {
		i := indexOf(tasks, id)
		if i < 0 {
			return tasks, nil, false, fmt.Errorf("get %s: %w", id, ErrTaskNotFound)
		}
		return tasks, cloneTask(tasks[i]), false, nil
	})
	task, _ := v.(domain.Task)
	return task, err
}

// StateChange is the result of SetState.
type StateChange struct {
	Task     domain.Task
	Previous domain.TaskState
}

// SetState moves a task to a new todo state.
func (s *Store) SetState(ctx context.Context, id string, state domain.TaskState) (StateChange, error) {
	if !state.Valid() {
		return StateChange{}, fmt.Errorf("%q: %w", state, ErrInvalidState)
	}
	v, err := s.submit(ctx, "set_state", func(tasks []domain.Task) ([]domain.Task, any, bool, error) {
		i := indexOf(tasks, id)
		if i < 0 {
			return tasks, nil, false, fmt.Errorf("set state of %s: %w", id, ErrTaskNotFound)
		}
		change := StateChange{Previous: tasks[i].State}
		tasks[i].State = state
		change.Task = cloneTask(tasks[i])
		return tasks, change, change.Previous != state, nil
	})
	change, _ := v.(StateChange)
	return change, err
}

// Delete removes a task.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.submit(ctx, "delete", func(tasks []domain.Task) ([]domain.Task, any, bool, error) {
		i := indexOf(tasks, id)
		if i < 0 {
			return tasks, nil, false, fmt.Errorf("delete %s: %w", id, ErrTaskNotFound)
		}
		return append(tasks[:i], tasks[i+1:]...), nil, true, nil
	})
	return err
}

// Close stops the writer after retrying any write that previously failed.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
	return nil
}

func (s *Store) submit(ctx context.Context, op string, apply mutation) (any, error) {
	req := request{ctx: ctx, op: op, apply: apply, reply: make(chan result, 1)}

	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}

	select {
	case s.reqs <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}

	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopped:
		return nil, ErrClosed
	}
}

func (s *Store) writer() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			s.flush()
			return
		case req := <-s.reqs:
			req.reply <- s.handle(req)
		}
	}
}

func (s *Store) handle(req request) result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.ctx), writeTimeout)
	defer cancel()

	if err := s.refresh(ctx); err != nil {
		return result{err: err}
	}

	next, value, changed, err := req.apply(cloneTasks(s.tasks))
	if err != nil {
		return result{err: err}
	}
	if !changed {
		return result{value: value}
	}

	s.tasks = next
	s.dirty = true
	if err := s.persist(ctx, req.op); err != nil {
		return result{value: value, err: err}
	}
	return result{value: value}
}

// refresh re-reads the collection unless the in-memory copy holds writes that
// have not reached storage yet.
func (s *Store) refresh(ctx context.Context) error {
	if s.dirty {
		return nil
	}
	slot, err := s.repo.GetSlot(ctx, s.slot)
	if err != nil {
		if s.loaded {
			s.logger.Warn("Failed to read tasks, using in-memory copy", "error", err)
			return nil
		}
		return &PersistenceError{Op: "load", Err: err}
	}

	var tasks []domain.Task
	if slot != nil && len(slot.Value) > 0 {
		if err := json.Unmarshal(slot.Value, &tasks); err != nil {
			return &PersistenceError{Op: "decode", Err: err}
		}
	}
	s.tasks = tasks
	s.loaded = true
	return nil
}

func (s *Store) persist(ctx context.Context, op string) error {
	tasks := s.tasks
	if tasks == nil {
		tasks = []domain.Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	if err := s.repo.PutSlot(ctx, s.slot, data); err != nil {
		s.logger.Warn("Failed to persist tasks, will retry on next write", "op", op, "error", err)
		return &PersistenceError{Op: op, Err: err}
	}
	s.dirty = false
	return nil
}

func (s *Store) flush() {
	if !s.dirty {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.persist(ctx, "flush"); err != nil {
		s.logger.Error("Dropping unsaved task changes on close", "error", err)
	}
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneTask(t domain.Task) domain.Task {
	if t.AttentionHistory != nil {
		h := make([]int, len(t.AttentionHistory))
		copy(h, t.AttentionHistory)
		t.AttentionHistory = h
	}
	return t
}

func cloneTasks(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return nil
	}
	out := make([]domain.Task, len(tasks))
	for i := range tasks {
		out[i] = cloneTask(tasks[i])
	}
	return out
}
