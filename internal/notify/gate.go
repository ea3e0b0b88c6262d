// Package notify drives the icon badge and distraction alerts from readings.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/clock"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/scoring"
)

const (
	DefaultThreshold = 40
	DefaultCooldown  = 60 * time.Second

	AlertTitle = "Focus check"
	AlertBody  = "Your attention is drifting. Take a breath and get back to your task."
)

// BadgeSink displays the badge derived from the latest reading.
type BadgeSink interface {
	SetBadge(ctx context.Context, b domain.Badge) error
}

// AlertSink delivers a distraction alert to the user.
type AlertSink interface {
	Alert(ctx context.Context, a domain.Alert) error
}

// Gate decides when a reading warrants an alert. It rate limits alerts with a
// cooldown that survives task switches.
type Gate struct {
	badges    BadgeSink
	alerts    AlertSink
	threshold int
	cooldown  time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu          sync.Mutex
	lastAlertAt time.Time
	fired       bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithThreshold alerts on scores strictly below t.
func WithThreshold(t int) GateOption {
	return func(g *Gate) { g.threshold = t }
}

// WithCooldown sets the minimum time between alerts.
func WithCooldown(d time.Duration) GateOption {
	return func(g *Gate) { g.cooldown = d }
}

// WithClock sets the clock used for the cooldown.
func WithClock(c clock.Clock) GateOption {
	return func(g *Gate) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate creates a gate writing to the given sinks. Either may be nil.
func NewGate(badges BadgeSink, alerts AlertSink, opts ...GateOption) *Gate {
	g := &Gate{
		badges:    badges,
		alerts:    alerts,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		clock:     clock.System{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate pushes the badge for r and fires an alert when a task is active,
// the reading is below threshold and the cooldown has passed. It reports
// whether an alert fired.
func (g *Gate) Evaluate(ctx context.Context, r domain.Reading, activeTaskID string) bool {
	if g.badges != nil {
		if err := g.badges.SetBadge(ctx, scoring.BadgeFor(r.AttentionScore)); err != nil {
			g.logger.Warn("Failed to update badge", "error", err)
		}
	}

	if activeTaskID == "" || r.IsCalibrating() || r.AttentionScore >= g.threshold {
		return false
	}

	now := g.clock.Now()
	g.mu.Lock()
	if g.fired && now.Sub(g.lastAlertAt) < g.cooldown {
		g.mu.Unlock()
		return false
	}
	g.fired = true
	g.lastAlertAt = now
	g.mu.Unlock()

	alert := domain.Alert{
		Title:  AlertTitle,
		Body:   AlertBody,
		TaskID: activeTaskID,
		Score:  r.AttentionScore,
	}
	g.logger.Info("Distraction alert", "task_id", activeTaskID, "score", r.AttentionScore)
	if g.alerts != nil {
		if err := g.alerts.Alert(ctx, alert); err != nil {
			g.logger.Warn("Failed to deliver alert", "error", err)
		}
	}
	return true
}

// LastAlertAt returns when the last alert fired and whether one ever did.
func (g *Gate) LastAlertAt() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAlertAt, g.fired
}
