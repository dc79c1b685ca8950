package api_gateway_config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	ErrNoDSN          ErrConfig = "db.dsn is required for the postgres store"
	ErrNoRedis        ErrConfig = "redis.addr is required for the redis store"
	ErrNoSecret       ErrConfig = "auth.access_secret and auth.refresh_secret are required"
	ErrSharedSecret   ErrConfig = "auth.access_secret and auth.refresh_secret must differ"
	ErrUnknownStore   ErrConfig = "auth.store must be one of postgres, redis, memory"
	ErrNoKafkaBrokers ErrConfig = "kafka.brokers is required when kafka is enabled"
)

// Load reads path (if it exists), applies defaults and env overrides
// (AUTH_ACCESS_SECRET overrides auth.access_secret) and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetDefault("app.name", "leadbook/api-gateway")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.version", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "15s")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.max_conn_idle_time", "10m")
	v.SetDefault("db.health_check_period", "30s")
	v.SetDefault("db.query_timeout", "2s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "leadbook:auth")

	v.SetDefault("kafka.enable", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "session-events")
	v.SetDefault("kafka.partitions", 3)

	v.SetDefault("outbox.workers", 1)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.wait_time", "1s")
	v.SetDefault("outbox.in_progress_ttl", "1m")

	v.SetDefault("otel.enable", false)
	v.SetDefault("otel.service_name", "api-gateway")
	v.SetDefault("otel.sample_ratio", 1.0)
	v.SetDefault("otel.otlp_endpoint", "localhost:4317")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("auth.access_secret", "")
	v.SetDefault("auth.refresh_secret", "")
	v.SetDefault("auth.cookie_domain", "")
	v.SetDefault("auth.issuer", "leadbook")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "720h")
	v.SetDefault("auth.cookie_name", "refresh_token")
	v.SetDefault("auth.cookie_path", "/auth")
	v.SetDefault("auth.cookie_secure", true)
	v.SetDefault("auth.same_site", "lax")
	v.SetDefault("auth.store", string(StorePostgres))
	v.SetDefault("auth.legacy_body_refresh", false)
	v.SetDefault("auth.cors_origins", []string{})

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		return ErrNoSecret
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return ErrSharedSecret
	}
	switch c.Auth.Store {
	case StorePostgres:
		if c.DB.DSN == "" {
			return ErrNoDSN
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return ErrNoRedis
		}
	case StoreMemory:
	default:
		return ErrUnknownStore
	}
	if c.Kafka.Enable && len(c.Kafka.Brokers) == 0 {
		return ErrNoKafkaBrokers
	}
	return nil
}
