// Package session runs the attention tracking session: which task is active,
// which source feeds it, and the sampling loop tying scoring, history,
// notifications and the event bus together.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/bus"
	"github.com/ashureev/focus-labs/internal/clock"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/history"
	"github.com/ashureev/focus-labs/internal/scoring"
	"github.com/ashureev/focus-labs/internal/signal"
)

// DefaultSamplePeriod is the sampling tick period.
const DefaultSamplePeriod = time.Second

// Health service names reported by the session.
const (
	ServiceSampling = "focus.sampling"
	ServicePrefix   = "focus.source."
)

var (
	// ErrUnknownSource is returned for a source kind that is not configured.
	ErrUnknownSource = errors.New("unknown source")
	// ErrEmptyTaskID is returned by SelectTask without an id.
	ErrEmptyTaskID = errors.New("task id is required")
)

// HistoryAppender records accepted samples against a task.
type HistoryAppender interface {
	Append(ctx context.Context, taskID string, score int) error
}

// Evaluator decides badge and alert output for a reading.
type Evaluator interface {
	Evaluate(ctx context.Context, r domain.Reading, activeTaskID string) bool
}

// Publisher receives session events.
type Publisher interface {
	Publish(e bus.Event) bus.Event
}

// HealthReporter mirrors session health into an external probe.
type HealthReporter interface {
	SetServing(service string, serving bool)
}

// Config holds session settings.
type Config struct {
	SamplePeriod      time.Duration
	DefaultSource     domain.SourceKind
	FallbackSimulated bool
}

// Session is the tracking session state machine.
type Session struct {
	sources  map[domain.SourceKind]signal.Source
	scorer   scoring.Scorer
	history  HistoryAppender
	gate     Evaluator
	events   Publisher
	health   HealthReporter
	clock    clock.Clock
	logger   *slog.Logger
	period   time.Duration
	fallback bool

	// connectMu serializes ConnectSource and DisconnectSource.
	connectMu sync.Mutex

	mu         sync.Mutex
	activeTask string
	active     domain.SourceKind
	latest     *domain.Reading
	sampling   bool
	gen        uint64
	cancel     context.CancelFunc
	loopDone   chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock stamping readings.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHealth reports sampling and source state to h.
func WithHealth(h HealthReporter) Option {
	return func(s *Session) { s.health = h }
}

// New creates a session over the given sources. A simulated source is added
// when none is supplied.
func New(cfg Config, sources []signal.Source, hist HistoryAppender, gate Evaluator, events Publisher, opts ...Option) *Session {
	s := &Session{
		sources:  make(map[domain.SourceKind]signal.Source, len(sources)+1),
		history:  hist,
		gate:     gate,
		events:   events,
		clock:    clock.System{},
		logger:   slog.Default(),
		period:   cfg.SamplePeriod,
		fallback: cfg.FallbackSimulated,
		active:   domain.SourceSimulated,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.period <= 0 {
		s.period = DefaultSamplePeriod
	}
	for _, src := range sources {
		s.sources[src.Kind()] = src
	}
	if _, ok := s.sources[domain.SourceSimulated]; !ok {
		s.sources[domain.SourceSimulated] = signal.NewSimulated(nil, s.clock)
	}
	if cfg.DefaultSource.Valid() {
		if _, ok := s.sources[cfg.DefaultSource]; ok {
			s.active = cfg.DefaultSource
		}
	}
	for kind, src := range s.sources {
		src.SetHandlers(signal.Handlers{OnStatus: s.onSourceStatus})
		s.reportHealth(ServicePrefix+string(kind), src.IsConnected())
	}
	s.reportHealth(ServiceSampling, false)
	return s
}

// SelectTask makes id the active task. Sampling is not interrupted.
func (s *Session) SelectTask(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyTaskID
	}
	s.mu.Lock()
	prev := s.activeTask
	s.activeTask = id
	s.mu.Unlock()

	if prev == id {
		return nil
	}
	s.logger.Info("Task selected", "task_id", id, "previous_task_id", prev)
	if prev == "" {
		s.toggleBlinks(ctx, true)
	}
	return nil
}

// ClearTask deselects the active task. Sampling continues without persistence.
func (s *Session) ClearTask(ctx context.Context) {
	s.mu.Lock()
	prev := s.activeTask
	s.activeTask = ""
	s.mu.Unlock()

	if prev == "" {
		return
	}
	s.logger.Info("Task cleared", "task_id", prev)
	s.toggleBlinks(ctx, false)
}

// ActiveTaskID returns the selected task, or "".
func (s *Session) ActiveTaskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTask
}

// StartSampling starts the tick loop. Calling it while sampling is a no-op.
func (s *Session) StartSampling() {
	s.mu.Lock()
	if s.sampling {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.sampling = true
	s.gen++
	gen := s.gen
	s.cancel = cancel
	done := make(chan struct{})
	s.loopDone = done
	s.mu.Unlock()

	s.logger.Info("Sampling started", "period", s.period.String())
	s.reportHealth(ServiceSampling, true)
	go s.loop(ctx, gen, done)
}

// StopSampling cancels the tick loop. A read already in flight completes and
// its result is discarded.
func (s *Session) StopSampling() {
	s.mu.Lock()
	if !s.sampling {
		s.mu.Unlock()
		return
	}
	s.sampling = false
	s.gen++
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.logger.Info("Sampling stopped")
	s.reportHealth(ServiceSampling, false)
}

// IsSampling reports whether the tick loop runs.
func (s *Session) IsSampling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampling
}

// ConnectSource connects kind and makes it the active source. On failure the
// active source is left unchanged.
func (s *Session) ConnectSource(ctx context.Context, kind domain.SourceKind) error {
	src, ok := s.sources[kind]
	if !ok {
		return fmt.Errorf("%s: %w", kind, ErrUnknownSource)
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if err := src.Connect(ctx); err != nil {
		s.logger.Warn("Source connect failed", "source", string(kind), "error", err)
		return err
	}

	s.mu.Lock()
	prev := s.active
	s.active = kind
	hasTask := s.activeTask != ""
	s.mu.Unlock()

	if prev != kind && prev != domain.SourceSimulated {
		if err := s.sources[prev].Disconnect(ctx); err != nil {
			s.logger.Warn("Failed to disconnect previous source", "source", string(prev), "error", err)
		}
	}
	s.logger.Info("Active source changed", "source", string(kind), "previous", string(prev))
	if hasTask && kind != prev {
		s.toggleBlinks(ctx, true)
	}
	return nil
}

// DisconnectSource disconnects the active source and reverts to simulated.
func (s *Session) DisconnectSource(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	prev := s.active
	s.active = domain.SourceSimulated
	s.mu.Unlock()

	if prev == domain.SourceSimulated {
		return nil
	}
	s.logger.Info("Active source reverted to simulated", "previous", string(prev))
	if err := s.sources[prev].Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect %s: %w", prev, err)
	}
	return nil
}

// ActiveSource returns the selected source kind.
func (s *Session) ActiveSource() domain.SourceKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LatestReading returns the last scored reading, if any.
func (s *Session) LatestReading() (domain.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return domain.Reading{}, false
	}
	return *s.latest, true
}

// Status answers a UI status query.
func (s *Session) Status() domain.Status {
	conns := make(map[domain.SourceKind]bool, len(s.sources))
	for kind, src := range s.sources {
		conns[kind] = src.IsConnected()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := domain.Status{
		IsSampling:   s.sampling,
		ActiveTaskID: s.activeTask,
		ActiveSource: s.active,
		Connections:  conns,
	}
	switch {
	case s.sampling:
		st.State = domain.SessionSampling
	case s.activeTask != "":
		st.State = domain.SessionTaskSelected
	default:
		st.State = domain.SessionIdle
	}
	if s.latest != nil {
		r := *s.latest
		st.LatestReading = &r
	}
	return st
}

// Close stops sampling, waits for the loop to exit and disconnects sources.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()
	s.StopSampling()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var errs []error
	for kind, src := range s.sources {
		if kind == domain.SourceSimulated {
			continue
		}
		if err := src.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

// loop drains a single ticker so ticks never overlap; a slow tick makes the
// ticker drop the ticks it missed.
func (s *Session) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, gen)
		}
	}
}

func (s *Session) tick(ctx context.Context, gen uint64) {
	src := s.readSource()
	sample, err := src.Read(ctx)
	if err != nil {
		switch {
		case errors.Is(err, signal.ErrNoSample), errors.Is(err, context.Canceled):
			s.logger.Debug("No sample this tick", "source", string(src.Kind()), "error", err)
		default:
			s.logger.Warn("Source read failed", "source", string(src.Kind()), "error", err)
		}
		return
	}

	s.mu.Lock()
	if s.gen != gen || !s.sampling {
		s.mu.Unlock()
		return
	}
	reading := s.scorer.Score(sample.Input, s.clock.Now())
	s.latest = &reading
	taskID := s.activeTask
	s.mu.Unlock()

	if s.gate != nil {
		s.gate.Evaluate(ctx, reading, taskID)
	}
	if taskID != "" && s.history != nil {
		if err := s.history.Append(ctx, taskID, reading.AttentionScore); err != nil {
			switch {
			case errors.Is(err, history.ErrTaskNotFound):
				s.logger.Warn("Active task no longer exists", "task_id", taskID)
			case history.IsPersistence(err):
				s.logger.Warn("Sample kept in memory only", "task_id", taskID, "error", err)
			default:
				s.logger.Error("Failed to record sample", "task_id", taskID, "error", err)
			}
		}
	}
	if s.events != nil {
		s.events.Publish(bus.ReadingEvent(reading, taskID))
	}
}

// readSource picks the source for a tick, falling back to simulated when the
// active source has dropped.
func (s *Session) readSource() signal.Source {
	s.mu.Lock()
	kind := s.active
	s.mu.Unlock()
	src := s.sources[kind]
	if kind != domain.SourceSimulated && s.fallback && !src.IsConnected() {
		return s.sources[domain.SourceSimulated]
	}
	return src
}

func (s *Session) onSourceStatus(kind domain.SourceKind, connected bool) {
	s.logger.Info("Source connection changed", "source", string(kind), "connected", connected)
	s.reportHealth(ServicePrefix+string(kind), connected)
	if s.events != nil {
		s.events.Publish(bus.ConnectionEvent(kind, connected, s.clock.Now()))
	}
	if !connected || kind != domain.SourceBridge {
		return
	}
	// The bridge forgets blink tracking across reconnects.
	s.mu.Lock()
	resume := s.activeTask != "" && s.active == domain.SourceBridge
	s.mu.Unlock()
	if resume {
		go s.toggleBlinks(context.Background(), true)
	}
}

func (s *Session) toggleBlinks(ctx context.Context, on bool) {
	bc, ok := s.sources[domain.SourceBridge].(signal.BlinkController)
	if !ok || !s.sources[domain.SourceBridge].IsConnected() {
		return
	}
	var err error
	if on {
		err = bc.StartBlinkTracking(ctx)
	} else {
		err = bc.StopBlinkTracking(ctx)
	}
	if err != nil {
		s.logger.Warn("Blink tracking command failed", "start", on, "error", err)
	}
}

func (s *Session) reportHealth(service string, serving bool) {
	if s.health != nil {
		s.health.SetServing(service, serving)
	}
}
