package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultMailboxSize is the queue depth of a mailbox.
const DefaultMailboxSize = 100

// Mailbox is a Listener that queues events for a slow consumer. Deliver never
// blocks: when the queue is full the oldest event is dropped.
type Mailbox struct {
	ch      chan Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	name    string
	logger  *slog.Logger
}

// NewMailbox creates a mailbox with the given queue depth.
func NewMailbox(name string, size int, logger *slog.Logger) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{
		ch:     make(chan Event, size),
		done:   make(chan struct{}),
		name:   name,
		logger: logger,
	}
}

// Deliver queues e, dropping the oldest queued event if the queue is full.
func (m *Mailbox) Deliver(e Event) error {
	select {
	case <-m.done:
		return nil
	default:
	}

	select {
	case m.ch <- e:
		return nil
	default:
	}

	// Queue full: drop oldest to make room.
	select {
	case <-m.ch:
		n := m.dropped.Add(1)
		m.logger.Debug("Mailbox full, dropped oldest event", "listener", m.name, "dropped_total", n)
	default:
	}

	select {
	case m.ch <- e:
	default:
		m.dropped.Add(1)
		m.logger.Warn("Mailbox still full, dropping event", "listener", m.name, "event_id", e.ID)
	}
	return nil
}

// C returns the queue. It is never closed; select on Done as well.
func (m *Mailbox) C() <-chan Event {
	return m.ch
}

// Done is closed by Close.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

// Dropped returns how many events were discarded for backpressure.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}

// Close stops accepting events.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.done) })
}
