// Package dlq holds deliveries that exhausted their retry budget and lets
// operators inspect and replay them.
package dlq

import (
	"encoding/json"
	"time"

	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
)

// Entry is a dead-lettered delivery. The envelope is carried over verbatim
// so a replay sends exactly what the original delivery would have sent.
type Entry struct {
	entity.Entity

	ID         id.ID `json:"id"`
	DeliveryID id.ID `json:"delivery_id"`
	EventID    id.ID `json:"event_id"`
	EndpointID id.ID `json:"endpoint_id"`

	TenantID  string `json:"tenant_id"`
	EventType string `json:"event_type"`

	Envelope json.RawMessage `json:"envelope"`

	// Attempts is the budget the original delivery burned through.
	Attempts int `json:"attempts"`

	// Reason is the error message of the final failed attempt.
	Reason string `json:"reason"`

	// ReplayedAt is set once the entry has been replayed. Replay never
	// reopens the original delivery; it creates a fresh one.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// ReplayDeliveryID references the delivery the replay created.
	ReplayDeliveryID id.ID `json:"replay_delivery_id,omitempty"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset int
	Limit  int

	// EndpointID filters to one endpoint when non-nil.
	EndpointID id.ID

	// TenantID filters to one tenant when non-empty.
	TenantID string
}
