package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/google/uuid"
)

// Listener receives published events. A returned error is logged only.
// Deliver must not call Publish or Subscribe on the same bus.
type Listener interface {
	Deliver(Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event) error

func (f ListenerFunc) Deliver(e Event) error { return f(e) }

// Bus is the in-process event bus between the tracking session and its UIs.
type Bus struct {
	logger *slog.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[string]Listener
	status    func() domain.Status

	fanout sync.Mutex
	ring   *Ring[Event]
}

// New creates a bus keeping replaySize events for Since.
func New(replaySize int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:    logger,
		listeners: make(map[string]Listener),
		ring:      NewRing[Event](replaySize),
	}
}

// Publish stamps e with the next id, records it for replay and delivers it to
// every listener. Listener failures are logged.
func (b *Bus) Publish(e Event) Event {
	b.fanout.Lock()
	defer b.fanout.Unlock()

	b.mu.Lock()
	b.nextID++
	e.ID = b.nextID
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	targets := make(map[string]Listener, len(b.listeners))
	for id, l := range b.listeners {
		targets[id] = l
	}
	b.mu.Unlock()

	b.ring.Push(e)
	for id, l := range targets {
		if err := b.deliver(l, e); err != nil {
			b.logger.Warn("Listener failed", "listener_id", id, "event", string(e.Type), "error", err)
		}
	}
	return e
}

func (b *Bus) deliver(l Listener, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Listener panicked", "event", string(e.Type), "panic", r)
		}
	}()
	return l.Deliver(e)
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	id := uuid.NewString()
	b.mu.Lock()
	b.listeners[id] = l
	n := len(b.listeners)
	b.mu.Unlock()
	b.logger.Debug("Listener subscribed", "listener_id", id, "listeners", n)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// ListenerCount returns the number of subscribed listeners.
func (b *Bus) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Since returns retained events with an id greater than id, oldest first.
func (b *Bus) Since(id uint64) []Event {
	items := b.ring.Items()
	for i, e := range items {
		if e.ID > id {
			return items[i:]
		}
	}
	return nil
}

// LastID returns the id of the most recently published event.
func (b *Bus) LastID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

// SetStatusProvider installs the function answering Status queries.
func (b *Bus) SetStatusProvider(fn func() domain.Status) {
	b.mu.Lock()
	b.status = fn
	b.mu.Unlock()
}

// Status answers a UI status query. Without a provider it reports idle.
func (b *Bus) Status() domain.Status {
	b.mu.Lock()
	fn := b.status
	b.mu.Unlock()
	if fn == nil {
		return domain.Status{State: domain.SessionIdle, ActiveSource: domain.SourceSimulated, Connections: map[domain.SourceKind]bool{}}
	}
	return fn()
}
