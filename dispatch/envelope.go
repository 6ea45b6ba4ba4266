package dispatch

import (
	"encoding/json"
	"time"
)

// Envelope is the stable wire format delivered to endpoints. It is built
// once per event and frozen onto each fanned-out delivery, so retries always
// send byte-identical payloads.
type Envelope struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	EntityID   string            `json:"entity_id"`
	EntityType string            `json:"entity_type"`
	TenantID   string            `json:"tenant_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Data       any               `json:"data"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Encode returns the canonical JSON body bytes. The HMAC signature is
// computed over exactly these bytes.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
