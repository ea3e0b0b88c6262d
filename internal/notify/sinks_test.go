package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/bwmarrin/discordgo"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAlert = domain.Alert{Title: AlertTitle, Body: AlertBody, TaskID: "t1", Score: 22}

func TestHubDeliversToEverySink(t *testing.T) {
	a, b := &captureSink{}, &captureSink{err: errors.New("offline")}
	h := NewHub(nil, NamedSink{"a", a}, NamedSink{"b", b}, NamedSink{"nil", nil})
	assert.Equal(t, 2, h.Len())

	require.NoError(t, h.Alert(context.Background(), testAlert))
	h.Close()

	assert.Equal(t, 1, a.alertCount())
	assert.Equal(t, 1, b.alertCount())
	assert.NoError(t, h.Alert(context.Background(), testAlert), "alerts after close are ignored")
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Alert(context.Context, domain.Alert) error {
	<-s.release
	return nil
}

func TestHubNeverBlocksCaller(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	h := NewHub(nil, NamedSink{"slow", slow})

	var err error
	done := make(chan struct{})
	go func() {
		for i := 0; i < hubQueueSize+5; i++ {
			if e := h.Alert(context.Background(), testAlert); e != nil {
				err = e
			}
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub blocked on slow sink")
	}
	assert.Error(t, err, "overflow is reported")
	close(slow.release)
	h.Close()
}

func TestMulti(t *testing.T) {
	a, b := &captureSink{err: errors.New("first")}, &captureSink{}
	err := Multi{a, b}.Alert(context.Background(), testAlert)
	assert.EqualError(t, err, "first")
	assert.Equal(t, 1, b.alertCount())
}

type fakeNotifyCaller struct {
	mu    sync.Mutex
	calls [][]any
	err   error
}

func (f *fakeNotifyCaller) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...any) *dbus.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	if f.err != nil {
		return &dbus.Call{Method: method, Err: f.err}
	}
	return &dbus.Call{Method: method, Body: []any{uint32(len(f.calls) + 40)}}
}

func TestDesktopNotifierReplacesPrevious(t *testing.T) {
	caller := &fakeNotifyCaller{}
	dials := 0
	n := NewDesktopNotifierWith(func() (NotifyCaller, func() error, error) {
		dials++
		return caller, func() error { return nil }, nil
	}, nil)

	require.NoError(t, n.Alert(context.Background(), testAlert))
	require.NoError(t, n.Alert(context.Background(), testAlert))

	require.Len(t, caller.calls, 2)
	assert.Equal(t, appName, caller.calls[0][0])
	assert.Equal(t, uint32(0), caller.calls[0][1])
	assert.Equal(t, uint32(41), caller.calls[1][1], "second alert replaces the first")
	assert.Equal(t, AlertTitle, caller.calls[0][3])
	assert.Equal(t, 1, dials)
	require.NoError(t, n.Close())
}

func TestDesktopNotifierRedialsAfterFailure(t *testing.T) {
	caller := &fakeNotifyCaller{err: errors.New("service gone")}
	dials := 0
	n := NewDesktopNotifierWith(func() (NotifyCaller, func() error, error) {
		dials++
		return caller, nil, nil
	}, nil)

	require.Error(t, n.Alert(context.Background(), testAlert))
	caller.err = nil
	require.NoError(t, n.Alert(context.Background(), testAlert))
	assert.Equal(t, 2, dials)
}

func TestDesktopNotifierDialError(t *testing.T) {
	n := NewDesktopNotifierWith(func() (NotifyCaller, func() error, error) {
		return nil, nil, errors.New("no session bus")
	}, nil)
	assert.ErrorContains(t, n.Alert(context.Background(), testAlert), "no session bus")
}

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		in        string
		id, token string
		wantErr   bool
	}{
		{in: "https://discord.com/api/webhooks/123/abc-DEF", id: "123", token: "abc-DEF"},
		{in: "https://discordapp.com/api/v10/webhooks/9/tok/", id: "9", token: "tok"},
		{in: "https://discord.com/api/webhooks/123", wantErr: true},
		{in: "https://example.com/hooks/1/2", wantErr: true},
		{in: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, token, err := ParseWebhookURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.token, token)
		})
	}
}

type fakeWebhook struct {
	id, token string
	params    *discordgo.WebhookParams
	err       error
}

func (f *fakeWebhook) WebhookExecute(id, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.id, f.token, f.params = id, token, data
	return nil, f.err
}

func TestDiscordNotifier(t *testing.T) {
	fw := &fakeWebhook{}
	d := NewDiscordNotifierWith(fw, "123", "tok")
	require.NoError(t, d.Alert(context.Background(), testAlert))

	assert.Equal(t, "123", fw.id)
	assert.Equal(t, "tok", fw.token)
	require.Len(t, fw.params.Embeds, 1)
	assert.Equal(t, AlertTitle, fw.params.Embeds[0].Title)
	assert.Equal(t, "22%", fw.params.Embeds[0].Fields[0].Value)
}

func TestDiscordNotifierRESTError(t *testing.T) {
	fw := &fakeWebhook{err: &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}}
	d := NewDiscordNotifierWith(fw, "1", "2")
	assert.ErrorContains(t, d.Alert(context.Background(), testAlert), "returned 404")
}

func TestNewDiscordNotifierValidatesURL(t *testing.T) {
	_, err := NewDiscordNotifier("https://discord.com/api/webhooks/")
	assert.Error(t, err)

	d, err := NewDiscordNotifier("https://discord.com/api/webhooks/42/secret")
	require.NoError(t, err)
	assert.Equal(t, "42", d.id)
}
