package hookline

import (
	"errors"

	"github.com/hooklinehq/hookline/store"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	// Aliased from the store so callers match either.
	ErrNotFound = store.ErrNotFound

	// ErrMissingTenantID is returned by Trigger without a tenant.
	ErrMissingTenantID = errors.New("hookline: tenant id is required")

	// ErrMissingEventType is returned by Trigger without an event type.
	ErrMissingEventType = errors.New("hookline: event type is required")

	// ErrEndpointInactive is returned by TriggerTest against a
	// deactivated endpoint.
	ErrEndpointInactive = errors.New("hookline: endpoint is inactive")
)
