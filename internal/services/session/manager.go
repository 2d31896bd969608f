package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mcoot/coinfall/internal/dependencies/clock"
	"github.com/mcoot/coinfall/internal/dependencies/random"
	"github.com/mcoot/coinfall/internal/events"
	"github.com/mcoot/coinfall/internal/metrics"
	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/storage"
)

// Manager owns at most one engine per user and drives every engine from a
// single tick source
type Manager struct {
	deps engineDeps

	mu      sync.RWMutex
	engines map[model.UserID]*Engine

	cron *cron.Cron
}

// NewManager creates a new Manager
func NewManager(
	cfg Config,
	storage storage.Storage,
	clock clock.Clock,
	random random.Random,
	sink events.Sink,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if sink == nil {
		sink = events.Nop{}
	}

	logger = logger.With(slog.String("component", "session"))
	return &Manager{
		deps: engineDeps{
			cfg:     cfg,
			policy:  policy,
			storage: storage,
			settler: NewSettler(storage, cfg.Retry, m, logger),
			clock:   clock,
			random:  random,
			sink:    sink,
			metrics: m,
			logger:  logger,
		},
		engines: make(map[model.UserID]*Engine),
	}, nil
}

// Open returns the user's engine, creating and loading it if needed.
// A previously failed load is retried.
func (m *Manager) Open(ctx context.Context, userID model.UserID, displayName string) (*Engine, error) {
	now := m.deps.clock.Now()
	e := m.getOrCreate(userID, displayName, now)
	if err := e.Load(ctx, now); err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns the user's engine if one is held
func (m *Manager) Get(userID model.UserID) (*Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[userID]
	return e, ok
}

// getOrCreate touches the engine under the manager lock so the janitor
// cannot evict it between lookup and use
func (m *Manager) getOrCreate(userID model.UserID, displayName string, now time.Time) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[userID]; ok {
		e.Touch(now)
		return e
	}
	e := newEngine(userID, displayName, m.deps, now)
	m.engines[userID] = e
	m.deps.metrics.ActiveEngines.Set(float64(len(m.engines)))
	return e
}

// ActiveEngines returns the number of engines held
func (m *Manager) ActiveEngines() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}

// Tick advances every engine to now
func (m *Manager) Tick(now time.Time) {
	m.mu.RLock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.RUnlock()

	for _, e := range engines {
		e.OnTick(now)
	}
}

// Run ticks every engine at the configured interval until ctx is done
func (m *Manager) Run(ctx context.Context) {
	ticker := m.deps.clock.NewTicker(m.deps.cfg.TickInterval)
	defer ticker.Stop()

	m.deps.logger.Info("session tick loop started", slog.Duration("interval", m.deps.cfg.TickInterval))
	for {
		select {
		case <-ctx.Done():
			m.deps.logger.Info("session tick loop stopped")
			return
		case now := <-ticker.C():
			m.Tick(now)
		}
	}
}

// EvictIdle drops engines that are not mid-round, have no subscribers, no
// unfinished writes, and have been inactive for the configured idle period
func (m *Manager) EvictIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, e := range m.engines {
		if !e.idle(now, m.deps.cfg.IdleAfter) {
			continue
		}
		if m.deps.settler.Pending(id) > 0 {
			continue
		}
		delete(m.engines, id)
		evicted++
	}
	if evicted > 0 {
		m.deps.metrics.EnginesEvicted.Add(float64(evicted))
		m.deps.metrics.ActiveEngines.Set(float64(len(m.engines)))
		m.deps.logger.Info("idle engines evicted",
			slog.Int("evicted", evicted),
			slog.Int("remaining", len(m.engines)),
		)
	}
	return evicted
}

// StartJanitor schedules idle eviction on the configured cron spec. Each
// extra job runs after eviction on the same schedule.
func (m *Manager) StartJanitor(extra ...func(now time.Time)) error {
	spec := m.deps.cfg.JanitorSchedule
	if spec == "" {
		return nil
	}

	c := cron.New()
	job := func() {
		now := m.deps.clock.Now()
		m.EvictIdle(now)
		for _, fn := range extra {
			fn(now)
		}
	}
	if _, err := c.AddFunc(spec, job); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()

	m.deps.logger.Info("session janitor started", slog.String("schedule", spec))
	return nil
}

// Settler returns the background writer shared by all engines
func (m *Manager) Settler() *Settler {
	return m.deps.settler
}

// Close stops the janitor and waits for in-flight settle writes
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	return m.deps.settler.WaitContext(ctx)
}
