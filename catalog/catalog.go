// Package catalog manages the optional registry of known event types and
// validates event payloads against their JSON Schemas.
package catalog

import (
	"context"
	"encoding/json"

	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
)

// EventType is a declared event type. Declaring types is optional: events
// with undeclared types flow through unvalidated.
type EventType struct {
	entity.Entity

	ID id.ID `json:"id"`

	// Name is the dotted event type name, e.g. "invoice.paid".
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Schema is a JSON Schema applied to the event data payload.
	// Empty means any payload is accepted.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Deprecated event types reject new triggers while deliveries already
	// in flight drain normally.
	Deprecated bool `json:"deprecated"`
}

// Store is the persistence contract for event type definitions.
type Store interface {
	// CreateEventType persists a new definition.
	CreateEventType(ctx context.Context, et *EventType) error

	// GetEventTypeByName returns a definition by name.
	GetEventTypeByName(ctx context.Context, name string) (*EventType, error)

	// ListEventTypes returns all definitions.
	ListEventTypes(ctx context.Context) ([]*EventType, error)

	// UpdateEventType modifies an existing definition.
	UpdateEventType(ctx context.Context, et *EventType) error
}
