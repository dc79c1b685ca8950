package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Leadbook/internal/config/token-sweeper"
	"github.com/NordCoder/Leadbook/internal/obs"
	pg "github.com/NordCoder/Leadbook/internal/repository/postgres"
	redisrepo "github.com/NordCoder/Leadbook/internal/repository/redis"
	sweeper "github.com/NordCoder/Leadbook/internal/services/token-sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", envOr("LEADBOOK_CONFIG", "config/token-sweeper.yaml"), "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	lc := cfg.Log
	lc.App, lc.Env = "leadbook/token-sweeper", cfg.Env
	logger, err := obs.NewLogger(lc)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	o, err := obs.SetupOTel(ctx, cfg.OTEL)
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = o.Shutdown(context.Background()) }()

	var targets []sweeper.Target
	checks := map[string]obs.HealthFunc{}

	if cfg.WantsStore("postgres") {
		db, err := pg.NewDB(ctx, cfg.DB)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		checks["db"] = db.Ping
		targets = append(targets, sweeper.Target{Name: "postgres", Store: pg.NewRefreshTokenRepo(db)})
		if cfg.Sweeper.OutboxRetention > 0 {
			targets = append(targets, sweeper.Target{
				Name:  "outbox",
				Store: sweeper.DeliveredOutbox{Repo: pg.NewOutboxRepo(db), Retention: cfg.Sweeper.OutboxRetention},
			})
		}
	}
	if cfg.WantsStore("redis") {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		targets = append(targets, sweeper.Target{
			Name:  "redis",
			Store: redisrepo.NewRefreshTokenRepo(client, redisrepo.WithPrefix(cfg.Redis.Prefix)),
		})
	}

	ms := obs.BootstrapMetricsServer(cfg.Sweeper.MetricsAddr, checks, logger)
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = ms.Shutdown(shCtx)
	}()

	r := sweeper.New(logger, sweeper.NewUC(targets...), cfg.Sweeper.Tick, cfg.Sweeper.Timeout, prometheus.DefaultRegisterer)
	logger.Info("token-sweeper started",
		zap.Duration("tick", cfg.Sweeper.Tick),
		zap.Strings("stores", cfg.Sweeper.Stores),
	)
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sweeper stopped", zap.Error(err))
	}
	logger.Info("bye")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
