// Package delivery holds the delivery state machine and the retry engine
// that drives queued deliveries to a terminal state.
package delivery

import (
	"encoding/json"
	"time"

	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
)

// Status is the lifecycle state of a delivery.
type Status string

const (
	// StatusPending means the delivery is queued, either for its first
	// attempt or for a retry.
	StatusPending Status = "pending"

	// StatusDelivered means the endpoint acknowledged with a 2xx.
	StatusDelivered Status = "delivered"

	// StatusFailed means the delivery failed permanently without entering
	// the dead letter queue, for example when its endpoint was deactivated.
	StatusFailed Status = "failed"

	// StatusDeadLetter means the delivery exhausted its attempt budget and
	// was moved to the dead letter queue.
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether s is a terminal status. Terminal deliveries are
// never re-queued; replay creates a fresh delivery instead.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusDeadLetter
}

// Delivery is one attempt-tracked handoff of an event envelope to a single
// endpoint. The envelope bytes are frozen at creation so every attempt sends
// an identical signed body.
type Delivery struct {
	entity.Entity

	ID         id.ID `json:"id"`
	EventID    id.ID `json:"event_id"`
	EndpointID id.ID `json:"endpoint_id"`

	TenantID  string `json:"tenant_id"`
	EventType string `json:"event_type"`

	// Envelope is the exact JSON body posted to the endpoint.
	Envelope json.RawMessage `json:"envelope"`

	Status Status `json:"status"`

	// Attempts counts attempts actually made. Deferred attempts, such as
	// rate limit rejections, do not increment it.
	Attempts int `json:"attempts"`

	// MaxAttempts is frozen from the endpoint retry policy at creation.
	// Later policy edits do not affect deliveries already in flight.
	MaxAttempts int `json:"max_attempts"`

	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// NextAttemptAt orders the pending queue. Nil once terminal.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	ResponseStatus  int               `json:"response_status,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	LatencyMs       int               `json:"latency_ms,omitempty"`

	// ErrorMessage describes the most recent failure.
	ErrorMessage string `json:"error_message,omitempty"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int

	// Status filters to a single status when non-empty.
	Status Status

	// Since filters to deliveries created at or after this instant.
	Since time.Time
}

// Stats aggregates delivery counts per status for an endpoint.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"dead_letter"`
}
