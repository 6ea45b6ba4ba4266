package redis

import (
	"encoding/json"
	"fmt"

	"github.com/hooklinehq/hookline/endpoint"
)

// Endpoint.Secret is excluded from API serialization, but the store has to
// round-trip it, so the stored form adds it back under its own key.
func marshalEndpoint(ep *endpoint.Endpoint) ([]byte, error) {
	raw, err := json.Marshal(struct {
		*endpoint.Endpoint
		StoredSecret string `json:"secret"`
	}{ep, ep.Secret})
	if err != nil {
		return nil, fmt.Errorf("redis: marshal endpoint: %w", err)
	}
	return raw, nil
}

func unmarshalEndpoint(raw []byte) (*endpoint.Endpoint, error) {
	var wrapper struct {
		endpoint.Endpoint
		StoredSecret string `json:"secret"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("redis: unmarshal endpoint: %w", err)
	}
	ep := wrapper.Endpoint
	ep.Secret = wrapper.StoredSecret
	return &ep, nil
}
