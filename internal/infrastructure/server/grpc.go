package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"signal_trader/internal/core"
)

// PipelineService is the service name reported alongside the overall ("") status
const PipelineService = "signal_trader.Pipeline"

// HealthWatcher reports health transitions until ctx is cancelled
type HealthWatcher interface {
	Watch(ctx context.Context, interval time.Duration, onChange func(healthy bool))
}

// GRPCHealthServer serves the standard gRPC health protocol, mirroring the
// health manager's verdict.
type GRPCHealthServer struct {
	port     int
	interval time.Duration
	logger   core.ILogger
	watcher  HealthWatcher
	server   *grpc.Server
	health   *grpchealth.Server
}

func NewGRPCHealthServer(port int, watcher HealthWatcher, interval time.Duration, logger core.ILogger) *GRPCHealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &GRPCHealthServer{
		port:     port,
		interval: interval,
		logger:   logger.WithField("component", "grpc_health"),
		watcher:  watcher,
		server:   grpc.NewServer(),
		health:   grpchealth.NewServer(),
	}
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(PipelineService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// Run serves until ctx is cancelled
func (s *GRPCHealthServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled
func (s *GRPCHealthServer) Serve(ctx context.Context, lis net.Listener) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.watcher.Watch(watchCtx, s.interval, s.setServing)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	s.logger.Info("gRPC health server serving", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *GRPCHealthServer) setServing(healthy bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if healthy {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(PipelineService, status)
	s.logger.Info("gRPC serving status changed", "status", status.String())
}
