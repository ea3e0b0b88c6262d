package bus

import "sync"

// DefaultRingSize is the number of events kept for replay.
const DefaultRingSize = 100

// Ring is a fixed-size circular buffer. When full, Push overwrites the oldest item.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	size int
	head int // write position
	tail int // oldest item
	full bool
}

// NewRing creates a ring holding at most size items.
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring[T]{buf: make([]T, size), size: size}
}

// Push appends v, evicting the oldest item when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		r.tail = (r.tail + 1) % r.size
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % r.size
	if r.head == r.tail {
		r.full = true
	}
}

// Items returns the buffered items, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	out := make([]T, n)
	if n == 0 {
		return out
	}
	if r.head > r.tail {
		copy(out, r.buf[r.tail:r.head])
		return out
	}
	// Wrap-around: tail -> end + start -> head
	k := copy(out, r.buf[r.tail:])
	copy(out[k:], r.buf[:r.head])
	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Ring[T]) lenLocked() int {
	switch {
	case r.full:
		return r.size
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return r.size - r.tail + r.head
	}
}

// Reset empties the ring.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.tail, r.full = 0, 0, false
}

// Capacity returns the maximum number of items.
func (r *Ring[T]) Capacity() int {
	return r.size
}
