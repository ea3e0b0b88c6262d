package bus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Deliver(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ids() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.events))
	for i, e := range r.events {
		out[i] = e.ID
	}
	return out
}

func reading(score int) domain.Reading {
	return domain.Reading{AttentionScore: score, Level: domain.LevelFocused, Source: domain.SourceSimulated, Timestamp: time.Unix(100, 0)}
}

func TestPublishWithoutListeners(t *testing.T) {
	b := New(10, nil)
	e := b.Publish(ReadingEvent(reading(50), ""))
	assert.Equal(t, uint64(1), e.ID)
	assert.Equal(t, uint64(1), b.LastID())
}

func TestPublishFansOutInOrder(t *testing.T) {
	b := New(10, nil)
	r1, r2 := &recorder{}, &recorder{}
	b.Subscribe(r1)
	unsub := b.Subscribe(r2)

	b.Publish(ReadingEvent(reading(10), "t1"))
	b.Publish(BadgeEvent(domain.Badge{Text: "10%"}, time.Now()))
	unsub()
	unsub()
	b.Publish(ConnectionEvent(domain.SourceBridge, true, time.Now()))

	assert.Equal(t, []uint64{1, 2, 3}, r1.ids())
	assert.Equal(t, []uint64{1, 2}, r2.ids())
	assert.Equal(t, 1, b.ListenerCount())
}

func TestListenerFailuresAreIsolated(t *testing.T) {
	b := New(10, nil)
	good := &recorder{}
	b.Subscribe(ListenerFunc(func(Event) error { return errors.New("socket closed") }))
	b.Subscribe(ListenerFunc(func(Event) error { panic("boom") }))
	b.Subscribe(good)

	require.NotPanics(t, func() { b.Publish(ReadingEvent(reading(1), "")) })
	assert.Equal(t, []uint64{1}, good.ids())
}

func TestSinceReplaysRetainedEvents(t *testing.T) {
	b := New(3, nil)
	for i := 0; i < 5; i++ {
		b.Publish(ReadingEvent(reading(i), ""))
	}

	ids := func(es []Event) []uint64 {
		out := make([]uint64, len(es))
		for i, e := range es {
			out[i] = e.ID
		}
		return out
	}
	assert.Equal(t, []uint64{3, 4, 5}, ids(b.Since(0)))
	assert.Equal(t, []uint64{5}, ids(b.Since(4)))
	assert.Empty(t, b.Since(5))
}

func TestStatusProvider(t *testing.T) {
	b := New(1, nil)
	assert.Equal(t, domain.SessionIdle, b.Status().State)

	b.SetStatusProvider(func() domain.Status {
		return domain.Status{IsSampling: true, State: domain.SessionSampling}
	})
	assert.True(t, b.Status().IsSampling)
}

func TestMailboxDropsOldest(t *testing.T) {
	m := NewMailbox("test", 2, nil)
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, m.Deliver(Event{ID: i}))
	}
	assert.Equal(t, uint64(2), m.Dropped())
	assert.Equal(t, uint64(3), (<-m.C()).ID)
	assert.Equal(t, uint64(4), (<-m.C()).ID)

	m.Close()
	m.Close()
	require.NoError(t, m.Deliver(Event{ID: 5}))
	select {
	case e := <-m.C():
		t.Fatalf("unexpected event %d after close", e.ID)
	default:
	}
}

func TestMailboxNeverBlocksPublisher(t *testing.T) {
	b := New(10, nil)
	m := NewMailbox("slow", 1, nil)
	b.Subscribe(m)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(ReadingEvent(reading(i%100), ""))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full mailbox")
	}
	assert.Equal(t, uint64(1000), (<-m.C()).ID)
}
