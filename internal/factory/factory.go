package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mcoot/coinfall/internal/dependencies/clock"
	"github.com/mcoot/coinfall/internal/dependencies/random"
	"github.com/mcoot/coinfall/internal/events"
	"github.com/mcoot/coinfall/internal/events/rabbitmq"
	"github.com/mcoot/coinfall/internal/metrics"
	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/services/auth"
	"github.com/mcoot/coinfall/internal/services/identity"
	"github.com/mcoot/coinfall/internal/services/session"
	"github.com/mcoot/coinfall/internal/sse"
	"github.com/mcoot/coinfall/internal/storage"
	"github.com/mcoot/coinfall/internal/storage/memory"
	"github.com/mcoot/coinfall/internal/storage/postgres"
	redisstorage "github.com/mcoot/coinfall/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock    clock.Clock
	Random   random.Random
	Identity identity.Provider

	// Observability and fan-out
	Metrics    *metrics.Metrics
	HubManager *sse.HubManager
	Events     events.Sink

	// Services
	Sessions    *session.Manager
	AuthService *auth.Service

	publisher *rabbitmq.Publisher
	logger    *slog.Logger
}

// AMQPConfig enables publishing settled rounds to a topic exchange
type AMQPConfig struct {
	URL            string
	Exchange       string
	ConnectRetries int
	ConnectDelay   time.Duration
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "postgres")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// PostgresConfig holds Postgres settings (required if StorageType is "postgres")
	PostgresConfig *postgres.Config
	// BotToken verifies Telegram init data (required)
	BotToken string
	// InitDataMaxAge bounds how old accepted init data may be; zero disables the check
	InitDataMaxAge time.Duration
	// AuthConfig holds configuration for the auth service; Secret is required
	AuthConfig auth.Config
	// SessionConfig configures rounds and cooldowns (optional)
	// If zero value, defaults to session.DefaultConfig()
	SessionConfig session.Config
	// AMQP publishes round_settled events when set (optional)
	AMQP *AMQPConfig
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.BotToken == "" {
		return nil, errors.New("BotToken is required")
	}

	store, err := newStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var publisher *rabbitmq.Publisher
	if cfg.AMQP != nil && cfg.AMQP.URL != "" {
		publisher, err = rabbitmq.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.ConnectRetries, cfg.AMQP.ConnectDelay, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	// Create external dependencies
	clk := clock.New()
	rnd := random.New()
	verifier := identity.NewTelegramVerifier(cfg.BotToken, cfg.InitDataMaxAge, clk)

	app, err := newWithDependencies(store, clk, rnd, verifier, metrics.New(), publisher, cfg.AuthConfig, cfg.SessionConfig, logger)
	if err != nil {
		if publisher != nil {
			_ = publisher.Close()
		}
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func newStorage(ctx context.Context, cfg Config, logger *slog.Logger) (storage.Storage, error) {
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		return memory.New(), nil
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		return redisstorage.New(*cfg.RedisConfig)
	case StorageTypePostgres:
		if cfg.PostgresConfig == nil {
			return nil, errors.New("PostgresConfig required when StorageType is postgres")
		}
		store, err := postgres.New(ctx, *cfg.PostgresConfig)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresConfig.Migrate {
			logger.Info("postgres migrations applied")
		}
		return store, nil
	default:
		return nil, errors.New("invalid StorageType: must be 'memory', 'redis' or 'postgres'")
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	store storage.Storage,
	clk clock.Clock,
	rnd random.Random,
	provider identity.Provider,
	m *metrics.Metrics,
	publisher *rabbitmq.Publisher,
	authCfg auth.Config,
	sessionCfg session.Config,
	logger *slog.Logger,
) (*App, error) {
	if sessionCfg == (session.Config{}) {
		sessionCfg = session.DefaultConfig()
	}
	if authCfg.SessionDuration == 0 {
		authCfg.SessionDuration = auth.DefaultConfig().SessionDuration
	}
	if authCfg.Issuer == "" {
		authCfg.Issuer = auth.DefaultConfig().Issuer
	}

	hubManager := sse.NewHubManager(logger)
	sinks := events.Fanout{sse.NewSink(hubManager, logger)}
	if publisher != nil {
		sinks = append(sinks, events.Filter{
			Types: []model.EventType{model.EventRoundSettled, model.EventSettleFailed},
			Next:  publisher,
		})
	}

	sessions, err := session.NewManager(sessionCfg, store, clk, rnd, sinks, m, logger)
	if err != nil {
		return nil, err
	}
	authService, err := auth.New(provider, clk, authCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	return &App{
		Storage:     store,
		Clock:       clk,
		Random:      rnd,
		Identity:    provider,
		Metrics:     m,
		HubManager:  hubManager,
		Events:      sinks,
		Sessions:    sessions,
		AuthService: authService,
		publisher:   publisher,
		logger:      logger,
	}, nil
}

// Close waits for pending settle writes, then releases streams, the event
// bus and the store
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Sessions.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	a.HubManager.Close()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	if err := a.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	return errors.Join(errs...)
}
