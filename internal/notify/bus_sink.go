package notify

import (
	"context"

	"github.com/ashureev/focus-labs/internal/bus"
	"github.com/ashureev/focus-labs/internal/clock"
	"github.com/ashureev/focus-labs/internal/domain"
)

// BusSink publishes badge and alert events for UI listeners.
type BusSink struct {
	bus   *bus.Bus
	clock clock.Clock
}

// NewBusSink creates a sink publishing to b.
func NewBusSink(b *bus.Bus, c clock.Clock) *BusSink {
	if c == nil {
		c = clock.System{}
	}
	return &BusSink{bus: b, clock: c}
}

func (s *BusSink) SetBadge(_ context.Context, b domain.Badge) error {
	s.bus.Publish(bus.BadgeEvent(b, s.clock.Now()))
	return nil
}

func (s *BusSink) Alert(_ context.Context, a domain.Alert) error {
	s.bus.Publish(bus.AlertEvent(a, s.clock.Now()))
	return nil
}
