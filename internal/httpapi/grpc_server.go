package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"certhub.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer exposes the standard gRPC health service, tracking the same
// readiness probe the HTTP layer uses.
type GRPCServer struct {
	srv       *grpc.Server
	health    *health.Server
	readiness readinessChecker
}

func NewGRPCServer(r readinessChecker) *GRPCServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCServer{srv: srv, health: hs, readiness: r}
}

// Serve runs the server on lis until ctx is cancelled, refreshing the
// health status from the readiness probe in the background. The first
// probe runs before the listener accepts anything.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.refresh(ctx)
	go s.refreshLoop(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.srv.GracefulStop()
	}()
	return s.srv.Serve(lis)
}

func (s *GRPCServer) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *GRPCServer) refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.readiness.Check(checkCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(status == healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
}
