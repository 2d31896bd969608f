package session

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"

	"github.com/mcoot/coinfall/internal/services/eligibility"
)

// Config controls round timing, cooldown policy, retries and engine eviction
type Config struct {
	RoundDuration time.Duration
	ItemLifetime  time.Duration
	TickInterval  time.Duration
	LaneCount     int

	CooldownPolicy   string
	Cooldown         time.Duration
	CooldownTimezone string

	Retry RetryConfig

	// JanitorSchedule is a cron spec, e.g. "@every 1m"; empty disables eviction
	JanitorSchedule string
	IdleAfter       time.Duration
}

// RetryConfig bounds store retries for loads and settle writes
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
	AttemptTimeout  time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		RoundDuration:    60 * time.Second,
		ItemLifetime:     5 * time.Second,
		TickInterval:     time.Second,
		LaneCount:        90,
		CooldownPolicy:   eligibility.PolicyRolling,
		Cooldown:         eligibility.DefaultCooldown,
		CooldownTimezone: "UTC",
		Retry: RetryConfig{
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxAttempts:     5,
			AttemptTimeout:  5 * time.Second,
		},
		JanitorSchedule: "@every 1m",
		IdleAfter:       10 * time.Minute,
	}
}

// Policy builds the configured cooldown policy
func (c Config) Policy() (eligibility.Policy, error) {
	loc := time.UTC
	if c.CooldownTimezone != "" {
		l, err := time.LoadLocation(c.CooldownTimezone)
		if err != nil {
			return nil, fmt.Errorf("cooldown timezone: %w", err)
		}
		loc = l
	}
	return eligibility.NewPolicy(c.CooldownPolicy, c.Cooldown, loc)
}

// Validate checks the configuration for values the engine cannot run with
func (c Config) Validate() error {
	if c.RoundDuration <= 0 {
		return fmt.Errorf("round duration must be positive: %s", c.RoundDuration)
	}
	if c.ItemLifetime <= 0 {
		return fmt.Errorf("item lifetime must be positive: %s", c.ItemLifetime)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive: %s", c.TickInterval)
	}
	if c.LaneCount <= 0 {
		return fmt.Errorf("lane count must be positive: %d", c.LaneCount)
	}
	if c.JanitorSchedule != "" {
		if _, err := cron.ParseStandard(c.JanitorSchedule); err != nil {
			return fmt.Errorf("janitor schedule: %w", err)
		}
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// newBackOff builds a bounded exponential backoff from the retry settings
func (r RetryConfig) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = 0
	attempts := r.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	// WithMaxRetries counts retries, not attempts
	return backoff.WithMaxRetries(b, attempts-1)
}

func (r RetryConfig) attemptTimeout() time.Duration {
	if r.AttemptTimeout <= 0 {
		return 5 * time.Second
	}
	return r.AttemptTimeout
}
