// Package config loads server settings from the environment and an optional
// YAML file named by CONFIG_PATH.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/mcoot/coinfall/internal/services/auth"
	"github.com/mcoot/coinfall/internal/services/session"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config is the complete server configuration
type Config struct {
	Env      string `yaml:"env" env:"APP_ENV" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	HTTP     HTTPServer `yaml:"http"`
	Storage  Storage    `yaml:"storage"`
	Telegram Telegram   `yaml:"telegram"`
	Auth     Auth       `yaml:"auth"`
	Game     Game       `yaml:"game"`
	AMQP     AMQP       `yaml:"amqp"`
}

// HTTPServer configures the HTTP listener
type HTTPServer struct {
	Address          string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"30s"`
	CollectRateLimit float64       `yaml:"collect_rate_limit" env:"COLLECT_RATE_LIMIT" env-default:"10"`
	CollectBurst     int           `yaml:"collect_burst" env:"COLLECT_BURST" env-default:"20"`
}

// Storage selects and configures the account store
type Storage struct {
	Type             string `yaml:"type" env:"STORAGE_TYPE" env-default:"memory"`
	RedisURL         string `yaml:"redis_url" env:"REDIS_URL"`
	RedisKeyPrefix   string `yaml:"redis_key_prefix" env:"REDIS_KEY_PREFIX" env-default:"coinfall"`
	PostgresDSN      string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	PostgresMaxConns int    `yaml:"postgres_max_conns" env:"POSTGRES_MAX_CONNS" env-default:"10"`
	PostgresMigrate  bool   `yaml:"postgres_migrate" env:"POSTGRES_MIGRATE" env-default:"true"`
}

// Telegram configures init data verification
type Telegram struct {
	BotToken       string        `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	InitDataMaxAge time.Duration `yaml:"init_data_max_age" env:"TELEGRAM_INIT_DATA_MAX_AGE" env-default:"24h"`
}

// Auth configures session tokens
type Auth struct {
	TokenSecret string        `yaml:"token_secret" env:"AUTH_TOKEN_SECRET"`
	TokenTTL    time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"24h"`
}

// Game configures rounds, cooldowns and engine housekeeping
type Game struct {
	RoundDuration    time.Duration `yaml:"round_duration" env:"ROUND_DURATION" env-default:"60s"`
	ItemLifetime     time.Duration `yaml:"item_lifetime" env:"ITEM_LIFETIME" env-default:"5s"`
	TickInterval     time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL" env-default:"1s"`
	CooldownPolicy   string        `yaml:"cooldown_policy" env:"COOLDOWN_POLICY" env-default:"rolling"`
	Cooldown         time.Duration `yaml:"cooldown" env:"COOLDOWN" env-default:"24h"`
	CooldownTimezone string        `yaml:"cooldown_timezone" env:"COOLDOWN_TIMEZONE" env-default:"UTC"`

	RetryAttempts    int           `yaml:"retry_attempts" env:"STORE_RETRY_ATTEMPTS" env-default:"5"`
	RetryInterval    time.Duration `yaml:"retry_interval" env:"STORE_RETRY_INTERVAL" env-default:"200ms"`
	RetryMaxInterval time.Duration `yaml:"retry_max_interval" env:"STORE_RETRY_MAX_INTERVAL" env-default:"5s"`
	StoreTimeout     time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT" env-default:"5s"`

	JanitorSchedule string        `yaml:"janitor_schedule" env:"JANITOR_SCHEDULE" env-default:"@every 1m"`
	IdleAfter       time.Duration `yaml:"idle_after" env:"ENGINE_IDLE_AFTER" env-default:"10m"`
}

// AMQP configures the optional event bus; an empty URL disables it
type AMQP struct {
	URL            string        `yaml:"url" env:"AMQP_URL"`
	Exchange       string        `yaml:"exchange" env:"AMQP_EXCHANGE" env-default:"coinfall.events"`
	ConnectRetries int           `yaml:"connect_retries" env:"AMQP_CONNECT_RETRIES" env-default:"5"`
	ConnectDelay   time.Duration `yaml:"connect_delay" env:"AMQP_CONNECT_DELAY" env-default:"2s"`
}

// Load reads the configuration. Environment variables override values from
// the CONFIG_PATH file.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and cross-field constraints
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case StorageMemory:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when STORAGE_TYPE=redis"))
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when STORAGE_TYPE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_TYPE %q", c.Storage.Type))
	}

	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.Auth.TokenSecret == "" {
		errs = append(errs, errors.New("AUTH_TOKEN_SECRET is required"))
	}
	if c.HTTP.CollectRateLimit <= 0 || c.HTTP.CollectBurst <= 0 {
		errs = append(errs, errors.New("collect rate limit and burst must be positive"))
	}
	if err := c.SessionConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SessionConfig maps game settings onto the session engine configuration
func (c *Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.RoundDuration = c.Game.RoundDuration
	cfg.ItemLifetime = c.Game.ItemLifetime
	cfg.TickInterval = c.Game.TickInterval
	cfg.CooldownPolicy = c.Game.CooldownPolicy
	cfg.Cooldown = c.Game.Cooldown
	cfg.CooldownTimezone = c.Game.CooldownTimezone
	cfg.Retry = session.RetryConfig{
		InitialInterval: c.Game.RetryInterval,
		MaxInterval:     c.Game.RetryMaxInterval,
		MaxAttempts:     uint64(max(c.Game.RetryAttempts, 1)),
		AttemptTimeout:  c.Game.StoreTimeout,
	}
	cfg.JanitorSchedule = c.Game.JanitorSchedule
	cfg.IdleAfter = c.Game.IdleAfter
	return cfg
}

// AuthConfig maps auth settings onto the auth service configuration
func (c *Config) AuthConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.Secret = c.Auth.TokenSecret
	cfg.SessionDuration = c.Auth.TokenTTL
	return cfg
}

// Level returns the configured log level, defaulting to info
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
