package dlq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
	"github.com/hooklinehq/hookline/observability"
)

var (
	// ErrAlreadyReplayed is returned when replaying an entry twice.
	ErrAlreadyReplayed = errors.New("dlq: entry already replayed")

	// ErrEndpointInactive is returned when replaying to an endpoint that
	// is deactivated.
	ErrEndpointInactive = errors.New("dlq: endpoint is inactive")
)

// EndpointSource resolves the endpoint a dead-lettered delivery targeted.
type EndpointSource interface {
	Get(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error)
}

// Service manages the dead letter queue.
type Service struct {
	store      Store
	deliveries delivery.Store
	endpoints  EndpointSource
	logger     *slog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewService creates a DLQ service.
func NewService(store Store, deliveries delivery.Store, endpoints EndpointSource, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		deliveries: deliveries,
		endpoints:  endpoints,
		logger:     logger,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PushFailed records a delivery that exhausted its attempt budget.
func (svc *Service) PushFailed(ctx context.Context, d *delivery.Delivery, reason string) error {
	now := svc.now()
	e := &Entry{
		Entity:     entity.At(now),
		ID:         id.NewDLQID(),
		DeliveryID: d.ID,
		EventID:    d.EventID,
		EndpointID: d.EndpointID,
		TenantID:   d.TenantID,
		EventType:  d.EventType,
		Envelope:   d.Envelope,
		Attempts:   d.Attempts,
		Reason:     reason,
	}
	if err := svc.store.PushDLQ(ctx, e); err != nil {
		return err
	}
	svc.refreshSizeGauge(ctx)
	return nil
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, entryID id.ID) (*Entry, error) {
	return svc.store.GetDLQEntry(ctx, entryID)
}

// List returns DLQ entries, newest first.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Count returns the number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int, error) {
	return svc.store.CountDLQ(ctx)
}

// Replay re-queues a dead-lettered envelope as a brand-new delivery with a
// fresh attempt budget taken from the endpoint's current retry policy. The
// original delivery stays dead_letter; history is never rewritten.
func (svc *Service) Replay(ctx context.Context, entryID id.ID) (*delivery.Delivery, error) {
	e, err := svc.store.GetDLQEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.ReplayedAt != nil {
		return nil, ErrAlreadyReplayed
	}

	ep, err := svc.endpoints.Get(ctx, e.EndpointID)
	if err != nil {
		return nil, err
	}
	if !ep.Active {
		return nil, ErrEndpointInactive
	}

	now := svc.now()
	d := &delivery.Delivery{
		Entity:        entity.At(now),
		ID:            id.NewDeliveryID(),
		EventID:       e.EventID,
		EndpointID:    e.EndpointID,
		TenantID:      e.TenantID,
		EventType:     e.EventType,
		Envelope:      e.Envelope,
		Status:        delivery.StatusPending,
		MaxAttempts:   ep.RetryPolicy.MaxAttempts,
		NextAttemptAt: &now,
	}
	if err := svc.deliveries.Enqueue(ctx, d); err != nil {
		return nil, err
	}

	if err := svc.store.MarkReplayed(ctx, e.ID, d.ID, now); err != nil {
		// The replay delivery is already queued; the stale replay marker
		// only risks a duplicate replay, which the operator can see.
		svc.logger.ErrorContext(ctx, "mark dlq entry replayed",
			"entry_id", e.ID, "delivery_id", d.ID, "error", err)
	}

	svc.logger.InfoContext(ctx, "dlq entry replayed",
		"entry_id", e.ID, "delivery_id", d.ID, "endpoint_id", e.EndpointID)
	return d, nil
}

// ReplayBulk replays a batch of entries, skipping ones that fail, and
// returns how many were re-queued.
func (svc *Service) ReplayBulk(ctx context.Context, entryIDs []id.ID) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	replayed := 0
	for _, entryID := range entryIDs {
		if _, err := svc.Replay(ctx, entryID); err != nil {
			svc.logger.WarnContext(ctx, "bulk replay skipped entry",
				"entry_id", entryID, "error", err)
			continue
		}
		replayed++
	}
	return replayed, nil
}

// Purge deletes entries created before the cutoff.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int, error) {
	n, err := svc.store.PurgeDLQ(ctx, before)
	if err != nil {
		return 0, err
	}
	svc.refreshSizeGauge(ctx)
	return n, nil
}

func (svc *Service) refreshSizeGauge(ctx context.Context) {
	if n, err := svc.store.CountDLQ(ctx); err == nil {
		svc.metrics.SetDLQSize(n)
	}
}
