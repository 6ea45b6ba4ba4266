package endpoint

import (
	"slices"
	"time"

	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
	"github.com/hooklinehq/hookline/retry"
)

// Endpoint represents a webhook delivery target registered by a tenant.
type Endpoint struct {
	entity.Entity

	// ID is the unique TypeID for this endpoint.
	ID id.ID `json:"id"`

	// TenantID identifies the tenant that owns this endpoint.
	TenantID string `json:"tenant_id"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Description is a human-readable description of this endpoint.
	Description string `json:"description"`

	// Secret is the HMAC signing secret for this endpoint. Never serialized.
	Secret string `json:"-"`

	// EventTypes is the set of event type names this endpoint subscribes to.
	// Matching is exact membership; there is no wildcard expansion.
	EventTypes []string `json:"event_types"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Active indicates whether the endpoint receives deliveries. Endpoints
	// are never hard-deleted; deactivation preserves delivery history.
	Active bool `json:"active"`

	// RetryPolicy governs backoff and the attempt budget for this endpoint.
	RetryPolicy retry.Policy `json:"retry_policy"`

	// RateLimit bounds delivery attempts per second. Nil means unlimited.
	RateLimit *RateLimit `json:"rate_limit,omitempty"`

	// Timeout bounds each delivery attempt. Zero means the engine default.
	Timeout time.Duration `json:"timeout"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RateLimit is the per-endpoint admission control configuration.
type RateLimit struct {
	// RequestsPerSecond is the maximum delivery attempts admitted within
	// any rolling one-second window.
	RequestsPerSecond int `json:"requests_per_second"`

	// BurstSize is an advisory burst allowance carried in the endpoint
	// configuration for operators; the sliding window enforces
	// RequestsPerSecond regardless.
	BurstSize int `json:"burst_size,omitempty"`
}

// Subscribes reports whether the endpoint subscribes to the given event type.
func (e *Endpoint) Subscribes(eventType string) bool {
	return slices.Contains(e.EventTypes, eventType)
}
