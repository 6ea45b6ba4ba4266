package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/observability"
)

// EndpointLister enumerates the endpoints to sweep.
type EndpointLister interface {
	ListActiveEndpoints(ctx context.Context) ([]*endpoint.Endpoint, error)
}

// DeliveryLister provides the delivery history backing a health window.
type DeliveryLister interface {
	ListByEndpoint(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error)
}

// SnapshotStore persists computed snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	GetSnapshot(ctx context.Context, epID id.ID) (*Snapshot, error)
}

// MonitorConfig configures the health monitor.
type MonitorConfig struct {
	// CheckInterval is the sweep period.
	CheckInterval time.Duration

	// Window bounds how far back deliveries count toward health.
	Window time.Duration

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if c.Clock == nil {
		c.Clock = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Monitor periodically recomputes a health snapshot for every active
// endpoint.
type Monitor struct {
	endpoints  EndpointLister
	deliveries DeliveryLister
	snapshots  SnapshotStore
	cfg        MonitorConfig
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a health monitor.
func NewMonitor(endpoints EndpointLister, deliveries DeliveryLister, snapshots SnapshotStore, cfg MonitorConfig, logger *slog.Logger, metrics *observability.Metrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		endpoints:  endpoints,
		deliveries: deliveries,
		snapshots:  snapshots,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		metrics:    metrics,
	}
}

// Start launches the periodic sweep. The first sweep runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(loopCtx)
	return nil
}

// Stop halts the sweep loop.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep recomputes and saves a snapshot for every active endpoint. Exported
// so callers can force an immediate check.
func (m *Monitor) Sweep(ctx context.Context) {
	eps, err := m.endpoints.ListActiveEndpoints(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.ErrorContext(ctx, "health sweep: list endpoints", "error", err)
		}
		return
	}

	unhealthy := 0
	for _, ep := range eps {
		snap, err := m.Check(ctx, ep.ID)
		if err != nil {
			m.logger.ErrorContext(ctx, "health sweep: check endpoint",
				"endpoint_id", ep.ID, "error", err)
			continue
		}
		if !snap.Healthy {
			unhealthy++
			m.logger.WarnContext(ctx, "endpoint unhealthy",
				"endpoint_id", ep.ID,
				"consecutive_failures", snap.ConsecutiveFailures,
				"uptime_percent", snap.UptimePercent,
				"issues", snap.Issues)
		}
	}
	m.metrics.SetUnhealthyEndpoints(unhealthy)
}

// Check recomputes, saves, and returns the snapshot for one endpoint.
func (m *Monitor) Check(ctx context.Context, epID id.ID) (*Snapshot, error) {
	now := m.cfg.Clock()
	window, err := m.deliveries.ListByEndpoint(ctx, epID, delivery.ListOpts{
		Since: now.Add(-m.cfg.Window),
	})
	if err != nil {
		return nil, err
	}

	snap := Compute(epID, window, now)
	if err := m.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Snapshot returns the last saved snapshot for an endpoint.
func (m *Monitor) Snapshot(ctx context.Context, epID id.ID) (*Snapshot, error) {
	return m.snapshots.GetSnapshot(ctx, epID)
}
