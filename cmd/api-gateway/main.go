package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/NordCoder/Leadbook/internal/auth"
	config "github.com/NordCoder/Leadbook/internal/config/api-gateway"
	authsvc "github.com/NordCoder/Leadbook/internal/services/api-gateway/auth"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", envOr("LEADBOOK_CONFIG", "config/api-gateway.yaml"), "path to config file")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting api-gateway", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	otelShutdown, err := initOTel(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	st, err := initStores(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("stores", zap.Error(err))
	}
	defer st.Close()

	codec, err := auth.NewCodec(auth.Config{
		AccessSecret:  []byte(cfg.Auth.AccessSecret),
		RefreshSecret: []byte(cfg.Auth.RefreshSecret),
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		Issuer:        cfg.Auth.Issuer,
	})
	if err != nil {
		logger.Fatal("token codec", zap.Error(err))
	}

	runner, closeEvents, err := initEventRelay(rootCtx, cfg, st.outbox, logger)
	if err != nil {
		logger.Fatal("event relay", zap.Error(err))
	}
	defer closeEvents()

	opts := []authsvc.Option{authsvc.WithLogger(logger)}
	if st.tx != nil {
		opts = append(opts, authsvc.WithTransactor(st.tx))
	}
	if runner != nil {
		opts = append(opts, authsvc.WithOutbox(st.outbox))
	}
	uc := authsvc.NewUseCase(st.users, st.tokens, codec, opts...)

	grpcServer, hs, grpcLn, err := buildGRPCServer(cfg)
	if err != nil {
		logger.Fatal("build grpc", zap.Error(err))
	}
	go watchHealth(rootCtx, hs, st.checks, healthEvery)

	grpcErrCh := make(chan error, 1)
	go func() { grpcErrCh <- serveGRPC(grpcServer, grpcLn, cfg, logger) }()

	httpSrv := buildHTTPServer(cfg, logger, uc, st.checks)
	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- serveHTTP(httpSrv, logger) }()

	relayCtx, stopRelay := context.WithCancel(rootCtx)
	defer stopRelay()
	if runner != nil {
		runner.Start(relayCtx)
	}

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal", zap.String("reason", "context canceled"))
	case err := <-grpcErrCh:
		if err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	gracefulStopGRPC(grpcServer)

	stopRelay()
	if runner != nil {
		runner.Wait()
	}
	logger.Info("bye")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
