package endpoint

import (
	"time"

	"github.com/hooklinehq/hookline/retry"
)

// Input is the creation/update payload for endpoints. On update, zero-value
// fields are left untouched (partial merge).
type Input struct {
	// TenantID identifies the tenant that owns this endpoint.
	TenantID string `json:"tenant_id"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// EventTypes is the set of subscribed event type names.
	EventTypes []string `json:"event_types"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RetryPolicy overrides the engine default when set.
	RetryPolicy *retry.Policy `json:"retry_policy,omitempty"`

	// RateLimit bounds delivery attempts per second when set.
	RateLimit *RateLimit `json:"rate_limit,omitempty"`

	// Timeout bounds each delivery attempt. Zero means the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for endpoint listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
