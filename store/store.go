// Package store defines the composite persistence interface implemented by
// the memory, postgres, and redis backends.
package store

import (
	"context"

	"github.com/hooklinehq/hookline/catalog"
	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/dlq"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/health"
	"github.com/hooklinehq/hookline/internal/entity"
)

// ErrNotFound is returned by all backends when a record does not exist.
// It aliases the sentinel in internal/entity so leaf packages this package
// depends on can match it without an import cycle.
var ErrNotFound = entity.ErrNotFound

// Store is the full persistence surface. The delivery queue lives in the
// same store as the entities so enqueue and state transitions share one
// durability domain.
type Store interface {
	endpoint.Store
	delivery.Store
	dlq.Store
	catalog.Store
	health.SnapshotStore

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
