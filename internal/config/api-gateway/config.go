package api_gateway_config

import (
	"net/http"
	"strings"
	"time"

	"github.com/NordCoder/Leadbook/internal/obs"
	"github.com/NordCoder/Leadbook/internal/outbox"
	pg "github.com/NordCoder/Leadbook/internal/repository/postgres"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

func (a App) Dev() bool { return a.Env == "dev" }

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type Kafka struct {
	Enable  bool     `mapstructure:"enable"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// Partitions is used only when the topic has to be created.
	Partitions int `mapstructure:"partitions"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type StoreBackend string

const (
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
	StoreMemory   StoreBackend = "memory"
)

type Auth struct {
	AccessSecret      string        `mapstructure:"access_secret"`
	RefreshSecret     string        `mapstructure:"refresh_secret"`
	Issuer            string        `mapstructure:"issuer"`
	AccessTTL         time.Duration `mapstructure:"access_ttl"`
	RefreshTTL        time.Duration `mapstructure:"refresh_ttl"`
	CookieName        string        `mapstructure:"cookie_name"`
	CookieDomain      string        `mapstructure:"cookie_domain"`
	CookiePath        string        `mapstructure:"cookie_path"`
	CookieSecure      bool          `mapstructure:"cookie_secure"`
	CookieSameSite    string        `mapstructure:"same_site"`
	Store             StoreBackend  `mapstructure:"store"`
	LegacyBodyRefresh bool          `mapstructure:"legacy_body_refresh"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
}

// SameSite maps the configured name to its http constant; unknown values are Lax.
func (a Auth) SameSite() http.SameSite {
	switch strings.ToLower(a.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type Config struct {
	App    App                 `mapstructure:"app"`
	Server Server              `mapstructure:"server"`
	DB     pg.Config           `mapstructure:"db"`
	Redis  Redis               `mapstructure:"redis"`
	Kafka  Kafka               `mapstructure:"kafka"`
	Outbox outbox.RunnerConfig `mapstructure:"outbox"`
	OTEL   obs.OTELConfig      `mapstructure:"otel"`
	Log    Log                 `mapstructure:"log"`
	Auth   Auth                `mapstructure:"auth"`
}

func (c *Config) LoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    c.App.Name,
		Env:    c.App.Env,
		Ver:    c.App.Version,
	}
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
