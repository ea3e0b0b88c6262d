// Package signal provides the attention signal sources: a simulated generator,
// a Bluetooth EEG headband and a WebSocket bridge to a desktop analyzer.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/scoring"
)

// Sample is one raw reading from a source, before scoring.
type Sample struct {
	scoring.Input
	ReceivedAt time.Time
}

// Handlers receive pushed source events. Either field may be nil.
type Handlers struct {
	OnSample func(Sample)
	OnStatus func(kind domain.SourceKind, connected bool)
}

// Source is a producer of attention samples.
type Source interface {
	Kind() domain.SourceKind
	// Connect establishes the connection. Failures are *ConnectionError.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	// Read returns the most recent sample for a sampling tick.
	Read(ctx context.Context) (Sample, error)
	SetHandlers(h Handlers)
}

// BlinkController is implemented by sources that can toggle eye tracking.
type BlinkController interface {
	StartBlinkTracking(ctx context.Context) error
	StopBlinkTracking(ctx context.Context) error
}

// handlerSet guards the handlers of a source.
type handlerSet struct {
	mu sync.RWMutex
	h  Handlers
}

func (s *handlerSet) set(h Handlers) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

func (s *handlerSet) sample(sm Sample) {
	s.mu.RLock()
	fn := s.h.OnSample
	s.mu.RUnlock()
	if fn != nil {
		fn(sm)
	}
}

func (s *handlerSet) status(kind domain.SourceKind, connected bool) {
	s.mu.RLock()
	fn := s.h.OnStatus
	s.mu.RUnlock()
	if fn != nil {
		fn(kind, connected)
	}
}

// latest holds the newest pushed sample of a source.
type latest struct {
	mu  sync.RWMutex
	s   Sample
	has bool
}

func (l *latest) store(s Sample) {
	l.mu.Lock()
	l.s, l.has = s, true
	l.mu.Unlock()
}

func (l *latest) load() (Sample, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s, l.has
}

func (l *latest) clear() {
	l.mu.Lock()
	l.s, l.has = Sample{}, false
	l.mu.Unlock()
}
