package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hooklinehq/hookline/dispatch"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
	"github.com/hooklinehq/hookline/observability"
	"github.com/hooklinehq/hookline/ratelimit"
)

// EndpointSource resolves the endpoint a delivery targets.
type EndpointSource interface {
	Get(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error)
}

// Sender performs one delivery attempt.
type Sender interface {
	Deliver(ctx context.Context, ep *endpoint.Endpoint, body []byte) dispatch.Result
}

// DLQPusher receives deliveries that exhausted their attempt budget.
type DLQPusher interface {
	PushFailed(ctx context.Context, d *Delivery, reason string) error
}

// EngineConfig configures the delivery engine.
type EngineConfig struct {
	// Concurrency bounds in-flight delivery attempts.
	Concurrency int

	// PollInterval is how often the engine polls the queue for due work.
	PollInterval time.Duration

	// BatchSize caps deliveries claimed per poll.
	BatchSize int

	// RateLimitRetryDelay is how far a rate-limited delivery is pushed
	// back. Kept short so limited endpoints drain at their allowed rate
	// instead of starving behind backoff.
	RateLimitRetryDelay time.Duration

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.RateLimitRetryDelay <= 0 {
		c.RateLimitRetryDelay = time.Second
	}
	if c.Clock == nil {
		c.Clock = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Engine drains the delivery queue: it polls for due deliveries, dispatches
// them through a bounded worker pool, and applies the per-endpoint retry
// policy until each delivery reaches a terminal state.
type Engine struct {
	store     Store
	endpoints EndpointSource
	limiter   *ratelimit.Limiter
	sender    Sender
	dlq       DLQPusher
	cfg       EngineConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a delivery engine.
func NewEngine(store Store, endpoints EndpointSource, limiter *ratelimit.Limiter, sender Sender, dlq DLQPusher, cfg EngineConfig, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		endpoints: endpoints,
		limiter:   limiter,
		sender:    sender,
		dlq:       dlq,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
	}
}

// Start rebuilds the ready queue from persisted state and launches the poll
// loop. Safe to call once per engine; a second call is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	// Restart recovery: pending deliveries persisted by a previous process
	// re-enter the queue, late ones become due immediately.
	if err := e.store.RebuildQueue(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go e.loop(loopCtx)
	return nil
}

// Stop halts polling and waits for in-flight attempts to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for {
		e.drain(ctx, sem, &wg)

		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

// drain claims due deliveries and hands them to workers until the queue
// yields an empty batch.
func (e *Engine) drain(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := e.store.DequeueDue(ctx, e.cfg.Clock(), e.cfg.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
			}
			return
		}
		if len(batch) == 0 {
			return
		}

		for _, d := range batch {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Claimed but unprocessed deliveries are pushed back so
				// the next start picks them up without a rebuild.
				e.release(d)
				continue
			}
			wg.Add(1)
			go func(d *Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				e.process(ctx, d)
			}(d)
		}

		if len(batch) < e.cfg.BatchSize {
			return
		}
	}
}

// release returns an unprocessed claim to the queue unchanged.
func (e *Engine) release(d *Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.Error("release claim failed", "delivery_id", d.ID, "error", err)
	}
}

// process runs one claimed delivery through a single attempt and persists
// the resulting transition.
func (e *Engine) process(ctx context.Context, d *Delivery) {
	now := e.cfg.Clock()

	ep, err := e.endpoints.Get(ctx, d.EndpointID)
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		// Infrastructure trouble, not a verdict on the endpoint. Put the
		// claim back untouched so the next tick retries the lookup.
		e.logger.ErrorContext(ctx, "endpoint lookup failed, releasing claim",
			"delivery_id", d.ID, "endpoint_id", d.EndpointID, "error", err)
		e.release(d)
		return
	}
	if err != nil || !ep.Active {
		// Endpoint gone or deactivated: fail permanently, no retries and
		// no dead letter entry, since replay would hit the same wall.
		reason := "endpoint deactivated"
		if err != nil {
			reason = "endpoint not found"
		}
		d.Status = StatusFailed
		d.ErrorMessage = reason
		d.NextAttemptAt = nil
		d.Entity = d.Entity.Touch(now)
		if uerr := e.store.UpdateDelivery(ctx, d); uerr != nil {
			e.logger.ErrorContext(ctx, "persist failed delivery", "delivery_id", d.ID, "error", uerr)
		}
		e.metrics.DeliveryFinished(string(StatusFailed), d.Attempts)
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"delivery_id", d.ID, "endpoint_id", d.EndpointID, "reason", reason)
		return
	}

	// Rate limit gate. A rejected delivery is deferred, not attempted, so
	// its attempt budget is untouched.
	if ep.RateLimit != nil && !e.limiter.Allow(ep.ID.String(), ep.RateLimit.RequestsPerSecond) {
		next := now.Add(e.cfg.RateLimitRetryDelay)
		d.NextAttemptAt = &next
		d.Entity = d.Entity.Touch(now)
		if uerr := e.store.UpdateDelivery(ctx, d); uerr != nil {
			e.logger.ErrorContext(ctx, "defer rate-limited delivery", "delivery_id", d.ID, "error", uerr)
		}
		e.metrics.RateLimited()
		e.logger.DebugContext(ctx, "delivery rate limited",
			"delivery_id", d.ID, "endpoint_id", ep.ID, "retry_at", next)
		return
	}

	d.Attempts++
	d.LastAttemptAt = &now

	attemptCtx, span := e.tracer.StartAttempt(ctx, d.ID.String(), ep.ID.String(), d.Attempts)
	res := e.sender.Deliver(attemptCtx, ep, d.Envelope)
	observability.EndAttempt(span, res.Success, res.StatusCode, res.Error)

	d.ResponseStatus = res.StatusCode
	d.ResponseBody = res.ResponseBody
	d.ResponseHeaders = res.ResponseHeaders
	d.LatencyMs = res.LatencyMs
	e.metrics.AttemptLatency(res.LatencyMs)

	switch {
	case res.Success:
		done := e.cfg.Clock()
		d.Status = StatusDelivered
		d.DeliveredAt = &done
		d.NextAttemptAt = nil
		d.ErrorMessage = ""
		e.metrics.DeliveryFinished(string(StatusDelivered), d.Attempts)
		e.logger.InfoContext(ctx, "delivered",
			"delivery_id", d.ID, "endpoint_id", ep.ID,
			"attempt", d.Attempts, "status", res.StatusCode, "latency_ms", res.LatencyMs)

	case d.Attempts < d.MaxAttempts:
		// Transient failure with budget left. The attempt budget is frozen
		// on the delivery; the backoff curve follows the endpoint's current
		// policy, so tuning it affects already queued retries.
		next := now.Add(ep.RetryPolicy.NextDelay(d.Attempts))
		d.NextAttemptAt = &next
		d.ErrorMessage = attemptError(res)
		e.logger.WarnContext(ctx, "delivery attempt failed, retrying",
			"delivery_id", d.ID, "endpoint_id", ep.ID,
			"attempt", d.Attempts, "max_attempts", d.MaxAttempts,
			"status", res.StatusCode, "retry_at", next, "error", d.ErrorMessage)

	default:
		d.Status = StatusDeadLetter
		d.NextAttemptAt = nil
		d.ErrorMessage = attemptError(res)
		e.metrics.DeliveryFinished(string(StatusDeadLetter), d.Attempts)
		e.logger.ErrorContext(ctx, "delivery exhausted attempts, dead-lettering",
			"delivery_id", d.ID, "endpoint_id", ep.ID,
			"attempts", d.Attempts, "error", d.ErrorMessage)
	}

	d.Entity = d.Entity.Touch(e.cfg.Clock())
	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "persist delivery transition",
			"delivery_id", d.ID, "status", d.Status, "error", err)
		return
	}

	// DLQ push happens after the terminal state is durable, so a crash in
	// between leaves a consistent dead_letter delivery without an entry.
	if d.Status == StatusDeadLetter && e.dlq != nil {
		if err := e.dlq.PushFailed(ctx, d, d.ErrorMessage); err != nil {
			e.logger.ErrorContext(ctx, "dead letter push failed",
				"delivery_id", d.ID, "error", err)
		}
	}
}

func attemptError(res dispatch.Result) string {
	switch {
	case res.TimedOut:
		return "request timed out"
	case res.Error != "":
		return res.Error
	default:
		return "endpoint returned status " + strconv.Itoa(res.StatusCode)
	}
}
