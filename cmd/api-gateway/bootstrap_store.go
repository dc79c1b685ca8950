package main

import (
	"context"
	"fmt"
	"time"

	config "github.com/NordCoder/Leadbook/internal/config/api-gateway"
	domainauth "github.com/NordCoder/Leadbook/internal/domain/auth"
	"github.com/NordCoder/Leadbook/internal/domain/outbox"
	"github.com/NordCoder/Leadbook/internal/domain/user"
	"github.com/NordCoder/Leadbook/internal/obs"
	"github.com/NordCoder/Leadbook/internal/repository/memory"
	pg "github.com/NordCoder/Leadbook/internal/repository/postgres"
	redisrepo "github.com/NordCoder/Leadbook/internal/repository/redis"
	authsvc "github.com/NordCoder/Leadbook/internal/services/api-gateway/auth"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// stores bundles the repositories chosen by auth.store together with the
// health checks and closers of whatever backends they opened.
type stores struct {
	users   user.Repo
	tokens  domainauth.RefreshTokenRepo
	outbox  outbox.Repository
	tx      authsvc.Transactor
	checks  map[string]obs.HealthFunc
	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// initStores opens Postgres whenever a DSN is configured: it owns users and
// the outbox regardless of where refresh tokens live. Without a DSN the
// identity store and outbox fall back to memory, which is only fit for dev.
func initStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{checks: map[string]obs.HealthFunc{}}

	var db *pg.DB
	if cfg.DB.DSN != "" {
		var err error
		db, err = pg.NewDB(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		s.checks["db"] = db.Ping
		s.users = pg.NewUserRepo(db)
		s.outbox = pg.NewOutboxRepo(db)
	} else {
		logger.Warn("no db.dsn, users and outbox kept in memory")
		s.users = memory.NewUserRepo()
		s.outbox = memory.NewOutboxRepo()
	}

	switch cfg.Auth.Store {
	case config.StorePostgres:
		s.tokens = pg.NewRefreshTokenRepo(db)
		s.tx = pg.NewTransactor(db, logger)
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pctx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			s.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		s.tokens = redisrepo.NewRefreshTokenRepo(client, redisrepo.WithPrefix(cfg.Redis.Prefix))
	case config.StoreMemory:
		s.tokens = memory.NewRefreshTokenRepo(nil)
	default:
		s.Close()
		return nil, config.ErrUnknownStore
	}

	logger.Info("stores ready",
		zap.String("refresh_store", string(cfg.Auth.Store)),
		zap.Bool("postgres", db != nil),
	)
	return s, nil
}
