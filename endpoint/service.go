package endpoint

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
	"github.com/hooklinehq/hookline/retry"
	"github.com/hooklinehq/hookline/signature"
)

// Service is the endpoint registry: durable CRUD plus a per-tenant cache of
// active endpoints with bounded TTL and synchronous invalidation on every
// mutation.
type Service struct {
	store         Store
	defaultPolicy retry.Policy
	cacheTTL      time.Duration
	logger        *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry // keyed by tenant ID
}

type cacheEntry struct {
	endpoints []*Endpoint
	loadedAt  time.Time
}

// Config configures the endpoint registry.
type Config struct {
	// DefaultRetryPolicy applies to endpoints registered without a policy.
	DefaultRetryPolicy retry.Policy

	// CacheTTL bounds how long the per-tenant lookup cache is served
	// without a store read. Zero disables caching.
	CacheTTL time.Duration
}

// NewService creates a new endpoint registry.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultRetryPolicy.MaxAttempts == 0 {
		cfg.DefaultRetryPolicy = retry.Default()
	}
	return &Service{
		store:         store,
		defaultPolicy: cfg.DefaultRetryPolicy,
		cacheTTL:      cfg.CacheTTL,
		logger:        logger,
		cache:         make(map[string]cacheEntry),
	}
}

// Register validates and persists a new webhook endpoint, generating a
// signing secret when none is supplied, then warms the tenant cache.
func (svc *Service) Register(ctx context.Context, in Input) (*Endpoint, error) {
	if in.TenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Message: "required"}
	}
	if !validTargetURL(in.URL) {
		return nil, &ValidationError{Field: "url", Message: "must be an absolute http(s) URL"}
	}
	if len(in.EventTypes) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type required"}
	}

	policy := svc.defaultPolicy
	if in.RetryPolicy != nil {
		policy = *in.RetryPolicy
	}
	if err := policy.Validate(); err != nil {
		return nil, &ValidationError{Field: "retry_policy", Message: err.Error()}
	}
	if in.RateLimit != nil && in.RateLimit.RequestsPerSecond < 1 {
		return nil, &ValidationError{Field: "rate_limit", Message: "requests_per_second must be >= 1"}
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	ep := &Endpoint{
		Entity:      entity.New(),
		ID:          id.NewEndpointID(),
		TenantID:    in.TenantID,
		URL:         in.URL,
		Description: in.Description,
		Secret:      secret,
		EventTypes:  in.EventTypes,
		Headers:     in.Headers,
		Active:      true,
		RetryPolicy: policy,
		RateLimit:   in.RateLimit,
		Timeout:     in.Timeout,
		Metadata:    in.Metadata,
	}

	if err := svc.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	svc.refreshTenant(ctx, ep.TenantID)
	return ep, nil
}

// Get returns an endpoint by ID.
func (svc *Service) Get(ctx context.Context, epID id.ID) (*Endpoint, error) {
	return svc.store.GetEndpoint(ctx, epID)
}

// Update merges the set fields of in into an existing endpoint, re-persists
// it, and synchronously invalidates the tenant cache.
func (svc *Service) Update(ctx context.Context, epID id.ID, in Input) (*Endpoint, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if !validTargetURL(in.URL) {
			return nil, &ValidationError{Field: "url", Message: "must be an absolute http(s) URL"}
		}
		ep.URL = in.URL
	}
	if in.Description != "" {
		ep.Description = in.Description
	}
	if len(in.EventTypes) > 0 {
		ep.EventTypes = in.EventTypes
	}
	if in.Headers != nil {
		ep.Headers = in.Headers
	}
	if in.RetryPolicy != nil {
		if err := in.RetryPolicy.Validate(); err != nil {
			return nil, &ValidationError{Field: "retry_policy", Message: err.Error()}
		}
		ep.RetryPolicy = *in.RetryPolicy
	}
	if in.RateLimit != nil {
		if in.RateLimit.RequestsPerSecond < 1 {
			return nil, &ValidationError{Field: "rate_limit", Message: "requests_per_second must be >= 1"}
		}
		ep.RateLimit = in.RateLimit
	}
	if in.Timeout > 0 {
		ep.Timeout = in.Timeout
	}
	if in.Metadata != nil {
		ep.Metadata = in.Metadata
	}

	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	svc.refreshTenant(ctx, ep.TenantID)
	return ep, nil
}

// Deactivate soft-deletes an endpoint: it stops receiving deliveries but its
// delivery history stays intact and referentially valid.
func (svc *Service) Deactivate(ctx context.Context, epID id.ID) error {
	return svc.setActive(ctx, epID, false)
}

// Activate re-enables a previously deactivated endpoint.
func (svc *Service) Activate(ctx context.Context, epID id.ID) error {
	return svc.setActive(ctx, epID, true)
}

func (svc *Service) setActive(ctx context.Context, epID id.ID, active bool) error {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return err
	}
	if err := svc.store.SetActive(ctx, epID, active); err != nil {
		return err
	}
	svc.refreshTenant(ctx, ep.TenantID)
	return nil
}

// Lookup returns all active endpoints of a tenant subscribed to the given
// event type (exact membership, no wildcards). Served from the cache while
// fresh; every mutation refreshes the tenant entry synchronously.
func (svc *Service) Lookup(ctx context.Context, tenantID, eventType string) ([]*Endpoint, error) {
	active, err := svc.activeForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var matched []*Endpoint
	for _, ep := range active {
		if ep.Subscribes(eventType) {
			matched = append(matched, ep)
		}
	}
	return matched, nil
}

// List returns endpoints for a tenant.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Endpoint, error) {
	return svc.store.ListEndpoints(ctx, tenantID, opts)
}

// RotateSecret generates a new signing secret for an endpoint.
func (svc *Service) RotateSecret(ctx context.Context, epID id.ID) (string, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return "", err
	}

	ep.Secret = signature.GenerateSecret()
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return "", err
	}

	svc.refreshTenant(ctx, ep.TenantID)
	return ep.Secret, nil
}

// InvalidateCache clears the lookup cache, forcing fresh store reads.
func (svc *Service) InvalidateCache() {
	svc.mu.Lock()
	svc.cache = make(map[string]cacheEntry)
	svc.mu.Unlock()
}

func (svc *Service) activeForTenant(ctx context.Context, tenantID string) ([]*Endpoint, error) {
	if svc.cacheTTL > 0 {
		svc.mu.RLock()
		entry, ok := svc.cache[tenantID]
		svc.mu.RUnlock()
		if ok && time.Since(entry.loadedAt) < svc.cacheTTL {
			return entry.endpoints, nil
		}
	}

	eps, err := svc.store.ListActiveByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if svc.cacheTTL > 0 {
		svc.mu.Lock()
		svc.cache[tenantID] = cacheEntry{endpoints: eps, loadedAt: time.Now()}
		svc.mu.Unlock()
	}
	return eps, nil
}

// refreshTenant reloads a tenant's cache entry after a mutation. A failed
// reload falls back to dropping the entry so the next lookup hits the store.
func (svc *Service) refreshTenant(ctx context.Context, tenantID string) {
	if svc.cacheTTL <= 0 {
		return
	}

	eps, err := svc.store.ListActiveByTenant(ctx, tenantID)
	if err != nil {
		svc.logger.WarnContext(ctx, "cache refresh failed, dropping entry",
			"tenant_id", tenantID, "error", err)
		svc.mu.Lock()
		delete(svc.cache, tenantID)
		svc.mu.Unlock()
		return
	}

	svc.mu.Lock()
	svc.cache[tenantID] = cacheEntry{endpoints: eps, loadedAt: time.Now()}
	svc.mu.Unlock()
}

// validTargetURL accepts only absolute http(s) URLs with a host, so
// scheme-less paths and non-HTTP schemes never reach the dispatcher.
func validTargetURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidationError indicates invalid endpoint configuration. It is surfaced
// synchronously to the admin caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "endpoint validation: " + e.Field + ": " + e.Message
}
