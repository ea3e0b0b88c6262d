package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/clock"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/coder/websocket"
)

const (
	DefaultBridgeURL       = "ws://localhost:6969"
	DefaultReconnectDelay  = 5 * time.Second
	defaultBridgeDialLimit = 10 * time.Second
	bridgeReadLimit        = 1 << 20
	bridgeWriteTimeout     = 5 * time.Second
)

// ReconnectPolicy decides the delay before redial attempt n (0-based).
// Returning false gives up.
type ReconnectPolicy interface {
	Next(attempt int) (time.Duration, bool)
}

// FixedBackoff retries forever with a constant delay.
type FixedBackoff struct {
	Delay time.Duration
}

func (b FixedBackoff) Next(int) (time.Duration, bool) {
	return b.Delay, true
}

// WebSocketBridge consumes newline-delimited JSON from the desktop analyzer.
type WebSocketBridge struct {
	url         string
	policy      ReconnectPolicy
	dialTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	latest   latest
	handlers handlerSet

	mu     sync.Mutex
	conn   *websocket.Conn
	blinks *domain.BlinkMetrics
	cancel context.CancelFunc
	done   chan struct{}
}

// BridgeOption configures a WebSocketBridge.
type BridgeOption func(*WebSocketBridge)

// WithReconnectPolicy replaces the default fixed five second backoff.
func WithReconnectPolicy(p ReconnectPolicy) BridgeOption {
	return func(b *WebSocketBridge) {
		if p != nil {
			b.policy = p
		}
	}
}

// WithDialTimeout bounds each dial attempt.
func WithDialTimeout(d time.Duration) BridgeOption {
	return func(b *WebSocketBridge) {
		if d > 0 {
			b.dialTimeout = d
		}
	}
}

// WithBridgeClock sets the clock stamping samples.
func WithBridgeClock(c clock.Clock) BridgeOption {
	return func(b *WebSocketBridge) { b.clock = c }
}

// WithBridgeLogger sets the logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *WebSocketBridge) { b.logger = l }
}

// NewWebSocketBridge creates a bridge source for url.
func NewWebSocketBridge(url string, opts ...BridgeOption) *WebSocketBridge {
	if url == "" {
		url = DefaultBridgeURL
	}
	b := &WebSocketBridge{
		url:         url,
		policy:      FixedBackoff{Delay: DefaultReconnectDelay},
		dialTimeout: defaultBridgeDialLimit,
		clock:       clock.System{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *WebSocketBridge) Kind() domain.SourceKind { return domain.SourceBridge }

func (b *WebSocketBridge) SetHandlers(h Handlers) { b.handlers.set(h) }

func (b *WebSocketBridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Connect dials the bridge and starts the read loop. When the first dial
// fails the error is returned and the reconnect loop keeps trying anyway.
func (b *WebSocketBridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	b.stopLoop()

	conn, err := b.dial(ctx)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.mu.Lock()
	b.cancel, b.done = cancel, done
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("Bridge connect failed, retrying in background", "url", b.url, "error", err)
		go b.run(loopCtx, done, nil)
		return err
	}
	b.attach(conn)
	go b.run(loopCtx, done, conn)
	return nil
}

// Disconnect stops reconnecting and closes the connection.
func (b *WebSocketBridge) Disconnect(context.Context) error {
	b.stopLoop()
	return nil
}

// Read returns the latest focus or calibration sample.
func (b *WebSocketBridge) Read(context.Context) (Sample, error) {
	if !b.IsConnected() {
		return Sample{}, ErrNotConnected
	}
	s, ok := b.latest.load()
	if !ok {
		return Sample{}, ErrNoSample
	}
	return s, nil
}

// StartBlinkTracking asks the bridge to start the camera blink detector.
func (b *WebSocketBridge) StartBlinkTracking(ctx context.Context) error {
	return b.send(ctx, map[string]string{"action": "startBlinkTracking"})
}

// StopBlinkTracking asks the bridge to stop the blink detector.
func (b *WebSocketBridge) StopBlinkTracking(ctx context.Context) error {
	return b.send(ctx, map[string]string{"action": "stopBlinkTracking"})
}

func (b *WebSocketBridge) send(ctx context.Context, v any) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, bridgeWriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write bridge command: %w", err)
	}
	return nil
}

func (b *WebSocketBridge) stopLoop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (b *WebSocketBridge) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, b.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, classifyDial(ctx, resp, err)
	}
	conn.SetReadLimit(bridgeReadLimit)
	return conn, nil
}

func classifyDial(ctx context.Context, resp *http.Response, err error) error {
	switch {
	case resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized):
		return connErr(domain.SourceBridge, KindPermissionDenied, err)
	case resp != nil && resp.StatusCode >= http.StatusInternalServerError:
		return connErr(domain.SourceBridge, KindUnavailable, err)
	case resp != nil:
		return connErr(domain.SourceBridge, KindProtocolMismatch, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return connErr(domain.SourceBridge, KindTimeout, err)
	default:
		return connErr(domain.SourceBridge, KindUnavailable, err)
	}
}

func (b *WebSocketBridge) attach(conn *websocket.Conn) {
	b.mu.Lock()
	b.conn = conn
	b.blinks = nil
	b.mu.Unlock()
	b.latest.clear()
	b.logger.Info("Bridge connected", "url", b.url)
	b.handlers.status(domain.SourceBridge, true)
}

func (b *WebSocketBridge) detach(conn *websocket.Conn, reason string) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	b.mu.Unlock()
	if err := conn.Close(websocket.StatusNormalClosure, reason); err != nil {
		b.logger.Debug("Failed to close bridge connection", "error", err)
	}
	b.handlers.status(domain.SourceBridge, false)
}

// run owns the connection: read until it drops, then redial per policy.
func (b *WebSocketBridge) run(ctx context.Context, done chan struct{}, conn *websocket.Conn) {
	defer close(done)
	attempt := 0
	for {
		if conn != nil {
			b.readLoop(ctx, conn)
			if ctx.Err() != nil {
				b.detach(conn, "disconnect requested")
				return
			}
			b.logger.Warn("Bridge connection lost", "url", b.url)
			b.detach(conn, "read failed")
			conn = nil
			attempt = 0
		}

		delay, ok := b.policy.Next(attempt)
		if !ok {
			b.logger.Warn("Bridge reconnect abandoned", "attempts", attempt)
			return
		}
		attempt++
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c, err := b.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Debug("Bridge redial failed", "attempt", attempt, "error", err)
			continue
		}
		b.attach(c)
		conn = c
	}
}

func (b *WebSocketBridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				b.logger.Debug("Bridge closed connection", "status", websocket.CloseStatus(err))
			} else if ctx.Err() == nil {
				b.logger.Debug("Bridge read error", "error", err)
			}
			return
		}
		for _, line := range SplitFrame(frame) {
			b.handleLine(line)
		}
	}
}

func (b *WebSocketBridge) handleLine(line []byte) {
	ev, err := ParseBridgeMessage(line, b.clock.Now())
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			b.logger.Warn("Bridge reported error", "message", remote.Message)
			return
		}
		b.logger.Warn("Dropping bridge message", "error", err)
		return
	}

	switch {
	case ev.Sample != nil:
		s := *ev.Sample
		b.mu.Lock()
		if ev.Blinks != nil {
			b.blinks = ev.Blinks
		}
		if s.Blinks == nil && b.blinks != nil {
			blinks := *b.blinks
			s.Blinks = &blinks
		}
		b.mu.Unlock()
		b.latest.store(s)
		b.handlers.sample(s)
	case ev.Blinks != nil:
		b.mu.Lock()
		b.blinks = ev.Blinks
		b.mu.Unlock()
	default:
		b.logger.Debug("Bridge status", "status", ev.Info)
	}
}
