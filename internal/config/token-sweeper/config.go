package token_sweeper_config

import (
	"time"

	"github.com/NordCoder/Leadbook/internal/obs"
	pginfra "github.com/NordCoder/Leadbook/internal/repository/postgres"
)

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type SweepCfg struct {
	Tick        time.Duration `mapstructure:"tick"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	// Stores lists the refresh-token backends to sweep: postgres, redis or both.
	Stores []string `mapstructure:"stores"`
	// OutboxRetention keeps delivered session events this long; zero
	// disables the purge.
	OutboxRetention time.Duration `mapstructure:"outbox_retention"`
}

type Config struct {
	DB      pginfra.Config `mapstructure:"db"`
	Redis   RedisCfg       `mapstructure:"redis"`
	Sweeper SweepCfg       `mapstructure:"sweeper"`
	OTEL    obs.OTELConfig `mapstructure:"otel"`
	Log     obs.LogConfig  `mapstructure:"log"`
	Env     string         `mapstructure:"env"`
}

func (c *Config) WantsStore(name string) bool {
	for _, s := range c.Sweeper.Stores {
		if s == name {
			return true
		}
	}
	return false
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
