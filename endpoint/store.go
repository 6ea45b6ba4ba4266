package endpoint

import (
	"context"

	"github.com/hooklinehq/hookline/id"
)

// Store defines the persistence contract for webhook endpoints.
// There is deliberately no delete operation: endpoints are deactivated so
// that delivery history keeps a valid referent.
type Store interface {
	// CreateEndpoint persists a new endpoint.
	CreateEndpoint(ctx context.Context, ep *Endpoint) error

	// GetEndpoint returns an endpoint by ID.
	GetEndpoint(ctx context.Context, epID id.ID) (*Endpoint, error)

	// UpdateEndpoint modifies an existing endpoint.
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error

	// ListEndpoints returns endpoints for a tenant, optionally filtered.
	ListEndpoints(ctx context.Context, tenantID string, opts ListOpts) ([]*Endpoint, error)

	// ListActiveByTenant returns every active endpoint for a tenant.
	// Backs the registry cache; the hot lookup path filters the result by
	// subscribed event type in memory.
	ListActiveByTenant(ctx context.Context, tenantID string) ([]*Endpoint, error)

	// ListActiveEndpoints returns every active endpoint across all tenants.
	// Used by the health monitor sweep.
	ListActiveEndpoints(ctx context.Context) ([]*Endpoint, error)

	// SetActive activates or deactivates an endpoint without deleting it.
	SetActive(ctx context.Context, epID id.ID, active bool) error
}
