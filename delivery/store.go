package delivery

import (
	"context"
	"time"

	"github.com/hooklinehq/hookline/id"
)

// Store is the durable delivery queue. Pending deliveries are ordered by
// NextAttemptAt; the store is the single source of truth, so a restart
// resumes exactly where the previous process stopped.
type Store interface {
	// Enqueue persists a new pending delivery.
	Enqueue(ctx context.Context, d *Delivery) error

	// EnqueueBatch persists a batch of pending deliveries. Fan-out of one
	// event uses a single batch so partial writes do not split an event.
	EnqueueBatch(ctx context.Context, ds []*Delivery) error

	// DequeueDue atomically claims up to limit pending deliveries whose
	// NextAttemptAt is at or before now, in NextAttemptAt order. A claimed
	// delivery is invisible to concurrent callers until UpdateDelivery
	// either re-queues it or marks it terminal. Two workers never claim
	// the same delivery.
	DequeueDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)

	// UpdateDelivery persists attempt results and status transitions,
	// releasing any claim held on the delivery.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, dID id.ID) (*Delivery, error)

	// ListByEndpoint returns deliveries for an endpoint, newest first.
	ListByEndpoint(ctx context.Context, epID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListByEvent returns all deliveries fanned out from one event.
	ListByEvent(ctx context.Context, eventID id.ID) ([]*Delivery, error)

	// CountPending returns the number of pending deliveries.
	CountPending(ctx context.Context) (int, error)

	// RebuildQueue re-scans persisted pending deliveries into whatever
	// ready-queue structure the store keeps, releasing stale claims left
	// by a crashed process. Called once on engine start; stores whose
	// queue is derived directly from persisted state may no-op.
	RebuildQueue(ctx context.Context) error
}
