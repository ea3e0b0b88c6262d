package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startReporter(t *testing.T) (*Reporter, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := NewReporter(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.ServeListener(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("health server did not stop")
		}
	})
	return r, lis.Addr().String()
}

func TestReporterInitialStatuses(t *testing.T) {
	r := NewReporter(nil)

	serving, known := r.Serving(ServiceOverall)
	assert.True(t, known)
	assert.True(t, serving)

	for _, svc := range []string{ServiceSampling, ServiceBluetooth, ServiceBridge} {
		serving, known := r.Serving(svc)
		assert.True(t, known, svc)
		assert.False(t, serving, svc)
	}

	_, known = r.Serving("focus.unknown")
	assert.False(t, known)
}

func TestCheckOverGRPC(t *testing.T) {
	r, addr := startReporter(t)
	r.SetServing(ServiceSampling, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := Check(ctx, addr, ServiceOverall, ServiceSampling, ServiceBridge)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		ServiceOverall:  true,
		ServiceSampling: true,
		ServiceBridge:   false,
	}, got)

	r.SetServing(ServiceSampling, false)
	got, err = Check(ctx, addr, ServiceSampling)
	require.NoError(t, err)
	assert.False(t, got[ServiceSampling])
}

func TestCheckUnknownService(t *testing.T) {
	_, addr := startReporter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Check(ctx, addr, "focus.unknown")
	assert.Error(t, err)
}

func TestServeDisabled(t *testing.T) {
	r := NewReporter(nil)
	assert.NoError(t, r.Serve(context.Background(), ""))
}
