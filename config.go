package hookline

import (
	"time"

	"github.com/hooklinehq/hookline/retry"
)

// Config holds the tunables of the delivery pipeline. Zero fields fall back
// to the defaults below.
type Config struct {
	// Concurrency bounds in-flight delivery attempts.
	Concurrency int

	// PollInterval is how often the engine polls for due deliveries.
	PollInterval time.Duration

	// BatchSize caps deliveries claimed per poll.
	BatchSize int

	// DefaultTimeout bounds attempts to endpoints without their own.
	DefaultTimeout time.Duration

	// RateLimitRetryDelay is the reschedule delay for rate-limited
	// deliveries.
	RateLimitRetryDelay time.Duration

	// DefaultRetryPolicy applies to endpoints registered without one.
	DefaultRetryPolicy retry.Policy

	// CacheTTL bounds the endpoint lookup cache and the catalog schema
	// cache.
	CacheTTL time.Duration

	// HealthCheckInterval is the health monitor sweep period.
	HealthCheckInterval time.Duration

	// HealthWindow bounds how far back deliveries count toward health.
	HealthWindow time.Duration

	// Clock overrides time.Now. Used by tests.
	Clock func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         10,
		PollInterval:        5 * time.Second,
		BatchSize:           50,
		DefaultTimeout:      30 * time.Second,
		RateLimitRetryDelay: time.Second,
		DefaultRetryPolicy:  retry.Default(),
		CacheTTL:            30 * time.Second,
		HealthCheckInterval: 5 * time.Minute,
		HealthWindow:        24 * time.Hour,
		Clock:               func() time.Time { return time.Now().UTC() },
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.RateLimitRetryDelay <= 0 {
		c.RateLimitRetryDelay = def.RateLimitRetryDelay
	}
	if c.DefaultRetryPolicy.MaxAttempts == 0 {
		c.DefaultRetryPolicy = def.DefaultRetryPolicy
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.HealthWindow <= 0 {
		c.HealthWindow = def.HealthWindow
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}
