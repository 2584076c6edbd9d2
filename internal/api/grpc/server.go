// Package grpcapi serves the gRPC health service. Besides the overall
// status, every pool is published as "stt.pool.<name>", SERVING while it
// has a free seat.
package grpcapi

import (
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"realtime-stt-gateway/internal/observability"
	"realtime-stt-gateway/internal/observability/metrics"
	"realtime-stt-gateway/internal/service/pool"
)

const poolServicePrefix = "stt.pool."

// ServiceName returns the health service name of a pool.
func ServiceName(poolName string) string {
	return poolServicePrefix + poolName
}

type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
}

// New builds the server and subscribes its health status to pools.
func New(addr string, pools *pool.Set) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{addr: addr, grpc: g, health: healthServer}
	if pools != nil {
		pools.Observe(s.onSeats)
	}
	return s
}

func (s *Server) onSeats(poolName string, available, _ int) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if available <= 0 {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName(poolName), status)
}

// Health exposes the health server.
func (s *Server) Health() *health.Server {
	return s.health
}

// Start listens on the configured address and serves in a goroutine.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	go func() {
		log.Info().Str("addr", s.addr).Msg("gRPC health server started")
		if err := s.grpc.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
	return nil
}

// Stop marks every service NOT_SERVING and drains the server.
func (s *Server) Stop() {
	log.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
