package hookline

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/hooklinehq/hookline/retry"
	"github.com/hooklinehq/hookline/store"
)

// Option configures a Hookline instance.
type Option func(*options)

type options struct {
	store          store.Store
	logger         *slog.Logger
	cfg            Config
	promRegisterer prometheus.Registerer
	tracerProvider trace.TracerProvider
}

// WithStore sets the persistence backend. Defaults to the in-memory store.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConfig replaces the whole config at once.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConcurrency bounds in-flight delivery attempts.
func WithConcurrency(n int) Option {
	return func(o *options) { o.cfg.Concurrency = n }
}

// WithPollInterval sets the queue poll period.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.cfg.PollInterval = d }
}

// WithBatchSize caps deliveries claimed per poll.
func WithBatchSize(n int) Option {
	return func(o *options) { o.cfg.BatchSize = n }
}

// WithDefaultTimeout bounds attempts to endpoints without their own timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.cfg.DefaultTimeout = d }
}

// WithRateLimitRetryDelay sets the reschedule delay for rate-limited
// deliveries.
func WithRateLimitRetryDelay(d time.Duration) Option {
	return func(o *options) { o.cfg.RateLimitRetryDelay = d }
}

// WithDefaultRetryPolicy applies to endpoints registered without a policy.
func WithDefaultRetryPolicy(p retry.Policy) Option {
	return func(o *options) { o.cfg.DefaultRetryPolicy = p }
}

// WithCacheTTL bounds the endpoint and schema caches.
func WithCacheTTL(d time.Duration) Option {
	return func(o *options) { o.cfg.CacheTTL = d }
}

// WithHealthCheckInterval sets the health sweep period.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(o *options) { o.cfg.HealthCheckInterval = d }
}

// WithHealthWindow bounds how far back deliveries count toward health.
func WithHealthWindow(d time.Duration) Option {
	return func(o *options) { o.cfg.HealthWindow = d }
}

// WithClock overrides time.Now. Used by tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.cfg.Clock = clock }
}

// WithMetrics registers Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.promRegisterer = reg }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}
