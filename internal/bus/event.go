// Package bus fans session events out to UI listeners and keeps a short
// replay log for reconnecting clients.
package bus

import (
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
)

// EventType names a session event.
type EventType string

const (
	EventReadingUpdated          EventType = "readingUpdated"
	EventConnectionStatusChanged EventType = "connectionStatusChanged"
	EventBadgeUpdated            EventType = "badgeUpdated"
	EventDistractionAlert        EventType = "distractionAlert"
)

// ConnectionChange reports a source connecting or dropping.
type ConnectionChange struct {
	Source    domain.SourceKind `json:"source"`
	Connected bool              `json:"connected"`
}

// Event is one published session event. ID is assigned by the bus.
type Event struct {
	ID         uint64            `json:"id"`
	Type       EventType         `json:"type"`
	Time       time.Time         `json:"time"`
	TaskID     string            `json:"taskId,omitempty"`
	Reading    *domain.Reading   `json:"reading,omitempty"`
	Connection *ConnectionChange `json:"connection,omitempty"`
	Badge      *domain.Badge     `json:"badge,omitempty"`
	Alert      *domain.Alert     `json:"alert,omitempty"`
}

// ReadingEvent builds a readingUpdated event.
func ReadingEvent(r domain.Reading, taskID string) Event {
	return Event{Type: EventReadingUpdated, Time: r.Timestamp, TaskID: taskID, Reading: &r}
}

// ConnectionEvent builds a connectionStatusChanged event.
func ConnectionEvent(kind domain.SourceKind, connected bool, at time.Time) Event {
	return Event{
		Type:       EventConnectionStatusChanged,
		Time:       at,
		Connection: &ConnectionChange{Source: kind, Connected: connected},
	}
}

// BadgeEvent builds a badgeUpdated event.
func BadgeEvent(b domain.Badge, at time.Time) Event {
	return Event{Type: EventBadgeUpdated, Time: at, Badge: &b}
}

// AlertEvent builds a distractionAlert event.
func AlertEvent(a domain.Alert, at time.Time) Event {
	return Event{Type: EventDistractionAlert, Time: at, TaskID: a.TaskID, Alert: &a}
}
