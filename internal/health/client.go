package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

var errConnectionShutdown = errors.New("gRPC connection shut down")

// Check asks the health endpoint at addr for the status of each service and
// returns whether each one is SERVING.
func Check(ctx context.Context, addr string, services ...string) (map[string]bool, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    30 * time.Second,
			Timeout: 5 * time.Second,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial health endpoint %s: %w", addr, err)
	}
	defer conn.Close()

	if err := waitForReady(ctx, conn); err != nil {
		return nil, fmt.Errorf("health endpoint %s not ready: %w", addr, err)
	}

	client := healthpb.NewHealthClient(conn)
	if len(services) == 0 {
		services = []string{ServiceOverall}
	}
	out := make(map[string]bool, len(services))
	for _, svc := range services {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", svc, err)
		}
		out[svc] = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}
	return out, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}
