package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
)

const (
	hubQueueSize   = 16
	hubSendTimeout = 10 * time.Second
)

// Hub fans alerts out to several sinks. Each sink runs on its own goroutine so
// a slow webhook never delays the sampling tick.
type Hub struct {
	logger  *slog.Logger
	workers []*hubWorker
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type hubWorker struct {
	name  string
	sink  AlertSink
	queue chan domain.Alert
}

// NamedSink labels an alert sink for logs.
type NamedSink struct {
	Name string
	Sink AlertSink
}

// NewHub starts one worker per sink.
func NewHub(logger *slog.Logger, sinks ...NamedSink) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{logger: logger}
	for _, s := range sinks {
		if s.Sink == nil {
			continue
		}
		w := &hubWorker{name: s.Name, sink: s.Sink, queue: make(chan domain.Alert, hubQueueSize)}
		h.workers = append(h.workers, w)
		h.wg.Add(1)
		go h.run(w)
	}
	return h
}

// Alert queues a for every sink. A full queue drops the alert for that sink.
func (h *Hub) Alert(_ context.Context, a domain.Alert) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	var dropped []string
	for _, w := range h.workers {
		select {
		case w.queue <- a:
		default:
			dropped = append(dropped, w.name)
		}
	}
	if len(dropped) > 0 {
		return fmt.Errorf("alert queue full for %v", dropped)
	}
	return nil
}

// Len returns the number of sinks.
func (h *Hub) Len() int {
	return len(h.workers)
}

// Close drains pending alerts and stops the workers.
func (h *Hub) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		for _, w := range h.workers {
			close(w.queue)
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) run(w *hubWorker) {
	defer h.wg.Done()
	for a := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), hubSendTimeout)
		start := time.Now()
		err := w.sink.Alert(ctx, a)
		cancel()
		if err != nil {
			h.logger.Warn("Alert sink failed", "sink", w.name, "error", err)
			continue
		}
		h.logger.Debug("Alert delivered", "sink", w.name, "duration_ms", time.Since(start).Milliseconds())
	}
}

// Multi combines alert sinks that run inline, in order.
type Multi []AlertSink

func (m Multi) Alert(ctx context.Context, a domain.Alert) error {
	var firstErr error
	for _, s := range m {
		if err := s.Alert(ctx, a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
