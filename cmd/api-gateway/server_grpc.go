package main

import (
	"context"
	"net"
	"time"

	config "github.com/NordCoder/Leadbook/internal/config/api-gateway"
	"github.com/NordCoder/Leadbook/internal/obs"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	serviceName = "leadbook.auth"
	healthEvery = 10 * time.Second
)

// buildGRPCServer exposes only the standard health service; orchestrators
// probe it while the browser-facing API stays on HTTP.
func buildGRPCServer(cfg *config.Config) (*grpc.Server, *health.Server, net.Listener, error) {
	grpcMetrics := grpcprometheus.NewServerMetrics()
	grpcServer := grpc.NewServer(obs.GRPCServerOpts(grpcMetrics)...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, nil, nil, err
	}
	return grpcServer, hs, ln, nil
}

func serveGRPC(s *grpc.Server, ln net.Listener, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
	return s.Serve(ln)
}

// watchHealth mirrors the store checks onto the gRPC health status until ctx ends.
func watchHealth(ctx context.Context, hs *health.Server, checks map[string]obs.HealthFunc, every time.Duration) {
	probe := func() {
		status := healthpb.HealthCheckResponse_SERVING
		pctx, cancel := context.WithTimeout(ctx, every/2)
		defer cancel()
		for _, check := range checks {
			if err := check(pctx); err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
				break
			}
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)
	}

	probe()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			probe()
		}
	}
}

func gracefulStopGRPC(s *grpc.Server) { s.GracefulStop() }
