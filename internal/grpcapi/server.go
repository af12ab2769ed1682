// Package grpcapi служебный gRPC сервер: health-check и reflection для
// балансировщиков и grpcurl.
package grpcapi

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const ServiceName = "arrhythmia.Classifier"

// Checker проверка зависимости (БД)
type Checker func() error

type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	check    Checker
	interval time.Duration
}

func NewServer(check Checker, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{grpc: gs, health: hs, check: check, interval: interval}
}

// Serve блокируется до остановки сервера
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.refresh()
	go s.watch(ctx)
	slog.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		if err := s.check(); err != nil {
			slog.Warn("Health check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// GracefulStop переводит сервис в NOT_SERVING и дожидается активных вызовов
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
