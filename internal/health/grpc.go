package health

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "zendesk.datasource"

// GRPCServer exposes the standard gRPC health service so orchestrators can probe the
// datasource the same way they probe other backends.
type GRPCServer struct {
	Addr string

	server *grpc.Server
	health *grpchealth.Server
	ln     net.Listener
}

func StartGRPC(addr string) (*GRPCServer, error) {
	if addr == "" {
		return nil, errors.New("grpc addr is empty")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	server := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		_ = server.Serve(ln)
	}()

	return &GRPCServer{Addr: ln.Addr().String(), server: server, health: hs, ln: ln}, nil
}

// SetServing publishes the upstream state for ServiceName. The process itself keeps
// reporting SERVING under the empty service name.
func (s *GRPCServer) SetServing(serving bool) {
	if s == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Stop marks every service NOT_SERVING and stops gracefully, forcing the stop when ctx
// ends first.
func (s *GRPCServer) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}
