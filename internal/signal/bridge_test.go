package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBridgeMessage(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tests := []struct {
		name    string
		line    string
		check   func(t *testing.T, ev BridgeEvent)
		wantErr bool
		remote  bool
	}{
		{
			name: "focus",
			line: `{"status":"focus","timestamp":1.5,"engagement":0.8,"focus":72.4,"baseline":{"mean":0.6,"std":0.1}}`,
			check: func(t *testing.T, ev BridgeEvent) {
				require.NotNil(t, ev.Sample)
				assert.Equal(t, domain.SourceBridge, ev.Sample.Source)
				assert.InDelta(t, 72.4, ev.Sample.Score, 1e-9)
				require.NotNil(t, ev.Sample.Engagement)
				assert.InDelta(t, 0.8, *ev.Sample.Engagement, 1e-9)
				assert.Equal(t, &domain.Baseline{Mean: 0.6, Std: 0.1}, ev.Sample.Baseline)
				assert.Equal(t, now, ev.Sample.ReceivedAt)
			},
		},
		{
			name: "calibrating",
			line: `{"status":"calibrating","progress":4,"total":30}`,
			check: func(t *testing.T, ev BridgeEvent) {
				require.NotNil(t, ev.Sample)
				assert.True(t, ev.Sample.Calibrating)
				assert.Equal(t, &domain.Calibration{Progress: 4, Total: 30}, ev.Sample.Calibration)
			},
		},
		{
			name: "blinks",
			line: `{"status":"tracking","blink_rate":14,"ear":0.281,"face_detected":true,"total_blinks":20}`,
			check: func(t *testing.T, ev BridgeEvent) {
				assert.Nil(t, ev.Sample)
				assert.Equal(t, &domain.BlinkMetrics{Rate: 14, EAR: 0.281, FaceDetected: true}, ev.Blinks)
			},
		},
		{
			name: "focus with nested blinks",
			line: `{"status":"focus","timestamp":2,"engagement":0.5,"focus":55,"blinks":{"rate":12,"ear":0.28,"face_detected":true}}`,
			check: func(t *testing.T, ev BridgeEvent) {
				require.NotNil(t, ev.Sample)
				assert.InDelta(t, 55, ev.Sample.Score, 1e-9)
				want := &domain.BlinkMetrics{Rate: 12, EAR: 0.28, FaceDetected: true}
				assert.Equal(t, want, ev.Sample.Blinks)
				assert.Equal(t, want, ev.Blinks)
			},
		},
		{
			name: "focus without score",
			line: `{"status":"focus","engagement":0.4,"timestamp":1}`,
			check: func(t *testing.T, ev BridgeEvent) {
				assert.Nil(t, ev.Sample)
				assert.Nil(t, ev.Blinks)
				assert.Equal(t, "focus", ev.Info)
			},
		},
		{
			name: "focus without score carries blinks",
			line: `{"status":"focus","timestamp":1,"blinks":{"rate":9,"ear":0.3,"face_detected":false}}`,
			check: func(t *testing.T, ev BridgeEvent) {
				assert.Nil(t, ev.Sample)
				assert.Equal(t, &domain.BlinkMetrics{Rate: 9, EAR: 0.3}, ev.Blinks)
			},
		},
		{
			name: "info",
			line: `{"status":"connected","message":"Blink detection initialized"}`,
			check: func(t *testing.T, ev BridgeEvent) {
				assert.Equal(t, "connected", ev.Info)
			},
		},
		{name: "remote error", line: `{"status":"error","message":"No EEG data received"}`, wantErr: true, remote: true},
		{name: "not json", line: `focus=10`, wantErr: true},
		{name: "unknown status", line: `{"status":"dancing"}`, wantErr: true},
		{name: "blinks missing ear", line: `{"status":"focus","focus":50,"blinks":{"rate":12,"face_detected":true}}`, wantErr: true},
		{name: "calibrating with string progress", line: `{"status":"calibrating","progress":"4","total":30}`, wantErr: true},
		{name: "fractional progress", line: `{"status":"calibrating","progress":4.5,"total":30}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseBridgeMessage([]byte(tt.line), now)
			if !tt.wantErr {
				require.NoError(t, err)
				tt.check(t, ev)
				return
			}
			require.Error(t, err)
			var remote *RemoteError
			var perr *ParseError
			if tt.remote {
				require.ErrorAs(t, err, &remote)
				assert.Equal(t, "No EEG data received", remote.Message)
			} else {
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, domain.SourceBridge, perr.Source)
			}
		})
	}
}

func TestSplitFrame(t *testing.T) {
	frame := []byte("{\"a\":1}\n\n  \n{\"b\":2}\n")
	lines := SplitFrame(frame)
	require.Len(t, lines, 2)
	assert.Equal(t, `{"a":1}`, string(lines[0]))
	assert.Equal(t, `{"b":2}`, string(lines[1]))
}

// bridgeServer is a fake desktop analyzer.
type bridgeServer struct {
	*httptest.Server
	accepts  atomic.Int32
	rejectN  atomic.Int32
	status   atomic.Int32
	mu       sync.Mutex
	conns    []*websocket.Conn
	commands []string
	frames   []string
}

func newBridgeServer(t *testing.T, frames ...string) *bridgeServer {
	t.Helper()
	bs := &bridgeServer{frames: frames}
	bs.status.Store(http.StatusServiceUnavailable)
	bs.Server = httptest.NewServer(http.HandlerFunc(bs.serve))
	t.Cleanup(bs.Close)
	return bs
}

func (bs *bridgeServer) url() string {
	return "ws" + strings.TrimPrefix(bs.URL, "http")
}

func (bs *bridgeServer) serve(w http.ResponseWriter, r *http.Request) {
	n := bs.accepts.Add(1)
	if n <= bs.rejectN.Load() {
		http.Error(w, "not yet", int(bs.status.Load()))
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	bs.mu.Lock()
	bs.conns = append(bs.conns, conn)
	bs.mu.Unlock()

	ctx := r.Context()
	for _, f := range bs.frames {
		if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
			return
		}
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		bs.mu.Lock()
		bs.commands = append(bs.commands, string(data))
		bs.mu.Unlock()
	}
}

func (bs *bridgeServer) dropAll() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for _, c := range bs.conns {
		_ = c.Close(websocket.StatusGoingAway, "restart")
	}
	bs.conns = nil
}

func (bs *bridgeServer) connCount() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return len(bs.conns)
}

func (bs *bridgeServer) received() []string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return append([]string(nil), bs.commands...)
}

func fastRetry() BridgeOption {
	return WithReconnectPolicy(FixedBackoff{Delay: 10 * time.Millisecond})
}

func TestBridgeReadsFramesAndBlinks(t *testing.T) {
	srv := newBridgeServer(t,
		`{"status":"tracking","blink_rate":12,"ear":0.3,"face_detected":true}`+"\n"+`{"status":"focus","focus":81}`,
		`{"status":"error","message":"camera busy"}`,
		`garbage`,
	)
	b := NewWebSocketBridge(srv.url(), fastRetry())
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })

	require.NoError(t, b.Connect(context.Background()))
	assert.True(t, b.IsConnected())

	var s Sample
	require.Eventually(t, func() bool {
		var err error
		s, err = b.Read(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.InDelta(t, 81, s.Score, 1e-9)
	require.NotNil(t, s.Blinks)
	assert.InDelta(t, 12, s.Blinks.Rate, 1e-9)
}

func TestBridgeNestedBlinksWinOverCached(t *testing.T) {
	srv := newBridgeServer(t,
		`{"status":"tracking","blink_rate":12,"ear":0.3,"face_detected":true}`+"\n"+
			`{"status":"focus","focus":64,"blinks":{"rate":20,"ear":0.22,"face_detected":true}}`,
	)
	b := NewWebSocketBridge(srv.url(), fastRetry())
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })
	require.NoError(t, b.Connect(context.Background()))

	var s Sample
	require.Eventually(t, func() bool {
		var err error
		s, err = b.Read(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.InDelta(t, 64, s.Score, 1e-9)
	require.NotNil(t, s.Blinks)
	assert.Equal(t, domain.BlinkMetrics{Rate: 20, EAR: 0.22, FaceDetected: true}, *s.Blinks)
}

func TestBridgeReconnectsAfterDrop(t *testing.T) {
	srv := newBridgeServer(t, `{"status":"focus","focus":50}`)
	b := NewWebSocketBridge(srv.url(), fastRetry())
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })

	var mu sync.Mutex
	var statuses []bool
	b.SetHandlers(Handlers{OnStatus: func(_ domain.SourceKind, c bool) {
		mu.Lock()
		statuses = append(statuses, c)
		mu.Unlock()
	}})

	require.NoError(t, b.Connect(context.Background()))
	require.Eventually(t, func() bool { return srv.connCount() == 1 }, time.Second, 5*time.Millisecond)
	srv.dropAll()

	require.Eventually(t, func() bool {
		return srv.accepts.Load() >= 2 && b.IsConnected()
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, statuses)
}

func TestBridgeInitialFailureKeepsRetrying(t *testing.T) {
	srv := newBridgeServer(t, `{"status":"focus","focus":64}`)
	srv.rejectN.Store(2)
	b := NewWebSocketBridge(srv.url(), fastRetry())
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })

	err := b.Connect(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrUnavailable)

	require.Eventually(t, b.IsConnected, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeForbiddenIsPermissionDenied(t *testing.T) {
	srv := newBridgeServer(t)
	srv.rejectN.Store(1 << 30)
	srv.status.Store(http.StatusForbidden)
	b := NewWebSocketBridge(srv.url(), WithReconnectPolicy(FixedBackoff{Delay: time.Hour}))
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })

	err := b.Connect(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestBridgeWrongEndpointIsProtocolMismatch(t *testing.T) {
	srv := newBridgeServer(t)
	srv.rejectN.Store(1 << 30)
	srv.status.Store(http.StatusNotFound)
	b := NewWebSocketBridge(srv.url(), WithReconnectPolicy(FixedBackoff{Delay: time.Hour}))
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })

	assert.ErrorIs(t, b.Connect(context.Background()), ErrProtocolMismatch)
}

func TestBridgeUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	b := NewWebSocketBridge(url, WithReconnectPolicy(FixedBackoff{Delay: time.Hour}))
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })

	err := b.Connect(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, b.IsConnected())
}

func TestBridgeDisconnectStopsRetrying(t *testing.T) {
	srv := newBridgeServer(t)
	srv.rejectN.Store(1 << 30)
	b := NewWebSocketBridge(srv.url(), fastRetry())

	require.Error(t, b.Connect(context.Background()))
	require.Eventually(t, func() bool { return srv.accepts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.Disconnect(context.Background()))

	n := srv.accepts.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, srv.accepts.Load())
}

func TestBridgeBlinkCommands(t *testing.T) {
	srv := newBridgeServer(t)
	b := NewWebSocketBridge(srv.url(), fastRetry())
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })

	assert.ErrorIs(t, b.StartBlinkTracking(context.Background()), ErrNotConnected)

	require.NoError(t, b.Connect(context.Background()))
	require.NoError(t, b.StartBlinkTracking(context.Background()))
	require.NoError(t, b.StopBlinkTracking(context.Background()))

	require.Eventually(t, func() bool { return len(srv.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"action":"startBlinkTracking"}`, `{"action":"stopBlinkTracking"}`}, srv.received())
}
