package hookline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hooklinehq/hookline/catalog"
	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/dispatch"
	"github.com/hooklinehq/hookline/dlq"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/health"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
	"github.com/hooklinehq/hookline/observability"
	"github.com/hooklinehq/hookline/ratelimit"
	"github.com/hooklinehq/hookline/store"
	"github.com/hooklinehq/hookline/store/memory"
)

// Hookline is the webhook delivery engine. Construct with New, register
// endpoints, call Start, then Trigger events. All background work stops
// with Stop.
type Hookline struct {
	cfg    Config
	logger *slog.Logger
	store  store.Store

	metrics *observability.Metrics
	tracer  *observability.Tracer

	endpoints *endpoint.Service
	catalog   *catalog.Service
	dlq       *dlq.Service
	engine    *delivery.Engine
	monitor   *health.Monitor

	mu      sync.Mutex
	started bool
}

// New creates a Hookline instance. Without options it runs on the in-memory
// store with production defaults.
func New(opts ...Option) (*Hookline, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg.withDefaults()
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	st := o.store
	if st == nil {
		st = memory.New()
	}

	var metrics *observability.Metrics
	if o.promRegisterer != nil {
		metrics = observability.NewMetrics(o.promRegisterer)
	}
	tracer := observability.NewTracer(o.tracerProvider)

	h := &Hookline{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		metrics: metrics,
		tracer:  tracer,
	}

	h.endpoints = endpoint.NewService(st, endpoint.Config{
		DefaultRetryPolicy: cfg.DefaultRetryPolicy,
		CacheTTL:           cfg.CacheTTL,
	}, logger)
	h.catalog = catalog.NewService(st, cfg.CacheTTL)
	h.dlq = dlq.NewService(st, st, h.endpoints, logger, metrics)

	dispatcher := dispatch.NewDispatcher(cfg.DefaultTimeout)
	h.engine = delivery.NewEngine(st, h.endpoints, ratelimit.New(), dispatcher, h.dlq,
		delivery.EngineConfig{
			Concurrency:         cfg.Concurrency,
			PollInterval:        cfg.PollInterval,
			BatchSize:           cfg.BatchSize,
			RateLimitRetryDelay: cfg.RateLimitRetryDelay,
			Clock:               cfg.Clock,
		}, logger, metrics, tracer)

	h.monitor = health.NewMonitor(st, st, st, health.MonitorConfig{
		CheckInterval: cfg.HealthCheckInterval,
		Window:        cfg.HealthWindow,
		Clock:         cfg.Clock,
	}, logger, metrics)

	return h, nil
}

// Start launches the delivery engine and the health monitor. Pending
// deliveries persisted by a previous process resume automatically.
func (h *Hookline) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}

	if err := h.store.Ping(ctx); err != nil {
		return fmt.Errorf("hookline: store unreachable: %w", err)
	}
	if err := h.engine.Start(ctx); err != nil {
		return fmt.Errorf("hookline: start engine: %w", err)
	}
	if err := h.monitor.Start(ctx); err != nil {
		h.engine.Stop(ctx)
		return fmt.Errorf("hookline: start health monitor: %w", err)
	}

	h.started = true
	h.logger.InfoContext(ctx, "hookline started",
		"concurrency", h.cfg.Concurrency, "poll_interval", h.cfg.PollInterval)
	return nil
}

// Stop halts background work, waiting for in-flight attempts up to ctx.
func (h *Hookline) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return nil
	}
	h.started = false

	monErr := h.monitor.Stop(ctx)
	engErr := h.engine.Stop(ctx)
	if engErr != nil {
		return engErr
	}
	return monErr
}

// TriggerInput describes an event to fan out.
type TriggerInput struct {
	// TenantID scopes the fan-out to one tenant's endpoints.
	TenantID string `json:"tenant_id"`

	// EventType is the event type name, e.g. "invoice.paid". Any string
	// is accepted unless the catalog declares and constrains it.
	EventType string `json:"event_type"`

	// EntityID and EntityType identify the subject of the event.
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`

	// Payload is the event data embedded in the envelope.
	Payload any `json:"payload"`

	// Metadata holds optional producer-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TriggerResult reports what a trigger produced.
type TriggerResult struct {
	// EventID identifies this trigger. Re-triggering the same logical
	// event produces a fresh ID; there is no deduplication.
	EventID id.ID `json:"event_id"`

	// DeliveryIDs are the queued deliveries, one per matched endpoint.
	DeliveryIDs []id.ID `json:"delivery_ids"`
}

// Trigger fans an event out to every active endpoint of the tenant
// subscribed to its type. Deliveries are durably queued before Trigger
// returns; their outcomes never propagate back to the producer. Zero
// matching endpoints is a no-op, not an error.
func (h *Hookline) Trigger(ctx context.Context, in TriggerInput) (*TriggerResult, error) {
	if in.TenantID == "" {
		return nil, ErrMissingTenantID
	}
	if in.EventType == "" {
		return nil, ErrMissingEventType
	}
	if err := h.catalog.ValidateTrigger(ctx, in.EventType, in.Payload); err != nil {
		return nil, err
	}

	ctx, span := h.tracer.StartTrigger(ctx, in.EventType, in.TenantID)
	defer span.End()

	eps, err := h.endpoints.Lookup(ctx, in.TenantID, in.EventType)
	if err != nil {
		return nil, fmt.Errorf("hookline: endpoint lookup: %w", err)
	}

	now := h.cfg.Clock()
	eventID := id.NewEventID()
	result := &TriggerResult{EventID: eventID}

	if len(eps) == 0 {
		h.logger.DebugContext(ctx, "no subscribers for event",
			"tenant_id", in.TenantID, "event_type", in.EventType)
		h.metrics.EventTriggered()
		return result, nil
	}

	envelope := dispatch.Envelope{
		EventID:    eventID.String(),
		EventType:  in.EventType,
		EntityID:   in.EntityID,
		EntityType: in.EntityType,
		TenantID:   in.TenantID,
		Timestamp:  now,
		Data:       in.Payload,
		Metadata:   in.Metadata,
	}
	body, err := envelope.Encode()
	if err != nil {
		return nil, fmt.Errorf("hookline: encode envelope: %w", err)
	}

	ds := make([]*delivery.Delivery, 0, len(eps))
	for _, ep := range eps {
		due := now
		d := &delivery.Delivery{
			Entity:        entity.At(now),
			ID:            id.NewDeliveryID(),
			EventID:       eventID,
			EndpointID:    ep.ID,
			TenantID:      in.TenantID,
			EventType:     in.EventType,
			Envelope:      json.RawMessage(body),
			Status:        delivery.StatusPending,
			MaxAttempts:   ep.RetryPolicy.MaxAttempts,
			NextAttemptAt: &due,
		}
		ds = append(ds, d)
		result.DeliveryIDs = append(result.DeliveryIDs, d.ID)
	}

	if err := h.store.EnqueueBatch(ctx, ds); err != nil {
		return nil, fmt.Errorf("hookline: enqueue deliveries: %w", err)
	}

	h.metrics.EventTriggered()
	h.logger.InfoContext(ctx, "event triggered",
		"event_id", eventID, "tenant_id", in.TenantID,
		"event_type", in.EventType, "deliveries", len(ds))
	return result, nil
}

// TriggerTest queues a synthetic delivery to one endpoint regardless of its
// subscriptions, so operators can verify connectivity and signatures.
func (h *Hookline) TriggerTest(ctx context.Context, epID id.ID) (*delivery.Delivery, error) {
	ep, err := h.endpoints.Get(ctx, epID)
	if err != nil {
		return nil, err
	}
	if !ep.Active {
		return nil, ErrEndpointInactive
	}

	now := h.cfg.Clock()
	eventID := id.NewEventID()
	envelope := dispatch.Envelope{
		EventID:    eventID.String(),
		EventType:  "hookline.test",
		EntityID:   ep.ID.String(),
		EntityType: "endpoint",
		TenantID:   ep.TenantID,
		Timestamp:  now,
		Data:       map[string]string{"message": "test delivery"},
	}
	body, err := envelope.Encode()
	if err != nil {
		return nil, fmt.Errorf("hookline: encode envelope: %w", err)
	}

	d := &delivery.Delivery{
		Entity:        entity.At(now),
		ID:            id.NewDeliveryID(),
		EventID:       eventID,
		EndpointID:    ep.ID,
		TenantID:      ep.TenantID,
		EventType:     "hookline.test",
		Envelope:      json.RawMessage(body),
		Status:        delivery.StatusPending,
		MaxAttempts:   1, // a test delivery is not retried
		NextAttemptAt: &now,
	}
	if err := h.store.Enqueue(ctx, d); err != nil {
		return nil, fmt.Errorf("hookline: enqueue test delivery: %w", err)
	}
	return d, nil
}

// Endpoints returns the endpoint registry.
func (h *Hookline) Endpoints() *endpoint.Service { return h.endpoints }

// Catalog returns the event type catalog.
func (h *Hookline) Catalog() *catalog.Service { return h.catalog }

// DLQ returns the dead letter queue service.
func (h *Hookline) DLQ() *dlq.Service { return h.dlq }

// Health returns the health monitor.
func (h *Hookline) Health() *health.Monitor { return h.monitor }

// Store returns the underlying store, for delivery history queries.
func (h *Hookline) Store() store.Store { return h.store }
