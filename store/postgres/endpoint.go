package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/retry"
	"github.com/hooklinehq/hookline/store"
)

const endpointColumns = `id, tenant_id, url, description, secret, event_types,
	headers, active, retry_policy, rate_limit, timeout_ns, metadata,
	created_at, updated_at`

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	policy, err := json.Marshal(ep.RetryPolicy)
	if err != nil {
		return fmt.Errorf("postgres: marshal retry policy: %w", err)
	}
	rateLimit, err := marshalNullable(ep.RateLimit)
	if err != nil {
		return fmt.Errorf("postgres: marshal rate limit: %w", err)
	}
	headers, err := marshalNullable(ep.Headers)
	if err != nil {
		return fmt.Errorf("postgres: marshal headers: %w", err)
	}
	metadata, err := marshalNullable(ep.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO endpoints (`+endpointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ep.ID, ep.TenantID, ep.URL, ep.Description, ep.Secret, ep.EventTypes,
		headers, ep.Active, policy, rateLimit, int64(ep.Timeout), metadata,
		ep.CreatedAt, ep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create endpoint: %w", err)
	}
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE id = $1`, epID)
	ep, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("endpoint %s: %w", epID, store.ErrNotFound)
	}
	return ep, err
}

// UpdateEndpoint modifies an existing endpoint.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	policy, err := json.Marshal(ep.RetryPolicy)
	if err != nil {
		return fmt.Errorf("postgres: marshal retry policy: %w", err)
	}
	rateLimit, err := marshalNullable(ep.RateLimit)
	if err != nil {
		return fmt.Errorf("postgres: marshal rate limit: %w", err)
	}
	headers, err := marshalNullable(ep.Headers)
	if err != nil {
		return fmt.Errorf("postgres: marshal headers: %w", err)
	}
	metadata, err := marshalNullable(ep.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE endpoints SET
			url = $2, description = $3, secret = $4, event_types = $5,
			headers = $6, active = $7, retry_policy = $8, rate_limit = $9,
			timeout_ns = $10, metadata = $11, updated_at = $12
		WHERE id = $1`,
		ep.ID, ep.URL, ep.Description, ep.Secret, ep.EventTypes,
		headers, ep.Active, policy, rateLimit, int64(ep.Timeout), metadata,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: update endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("endpoint %s: %w", ep.ID, store.ErrNotFound)
	}
	return nil
}

// ListEndpoints returns a tenant's endpoints, newest first.
func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointColumns+` FROM endpoints
		WHERE tenant_id = $1 AND ($2::boolean IS NULL OR active = $2)
		ORDER BY created_at DESC
		OFFSET $3 LIMIT $4`,
		tenantID, opts.Active, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list endpoints: %w", err)
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

// ListActiveByTenant returns all active endpoints for a tenant.
func (s *Store) ListActiveByTenant(ctx context.Context, tenantID string) ([]*endpoint.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointColumns+` FROM endpoints
		WHERE tenant_id = $1 AND active
		ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active endpoints: %w", err)
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

// ListActiveEndpoints returns all active endpoints across tenants.
func (s *Store) ListActiveEndpoints(ctx context.Context) ([]*endpoint.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointColumns+` FROM endpoints
		WHERE active ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active endpoints: %w", err)
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

// SetActive flips the active flag.
func (s *Store) SetActive(ctx context.Context, epID id.ID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE endpoints SET active = $2, updated_at = $3 WHERE id = $1`,
		epID, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("endpoint %s: %w", epID, store.ErrNotFound)
	}
	return nil
}

func collectEndpoints(rows pgx.Rows) ([]*endpoint.Endpoint, error) {
	var out []*endpoint.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func scanEndpoint(row pgx.Row) (*endpoint.Endpoint, error) {
	var (
		ep        endpoint.Endpoint
		headers   []byte
		policy    []byte
		rateLimit []byte
		metadata  []byte
		timeoutNs int64
	)
	err := row.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Description, &ep.Secret,
		&ep.EventTypes, &headers, &ep.Active, &policy, &rateLimit,
		&timeoutNs, &metadata, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}

	ep.Timeout = time.Duration(timeoutNs)
	if err := json.Unmarshal(policy, &ep.RetryPolicy); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal retry policy: %w", err)
	}
	if len(rateLimit) > 0 {
		ep.RateLimit = new(endpoint.RateLimit)
		if err := json.Unmarshal(rateLimit, ep.RateLimit); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal rate limit: %w", err)
		}
	}
	if err := unmarshalNullable(headers, &ep.Headers); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal headers: %w", err)
	}
	if err := unmarshalNullable(metadata, &ep.Metadata); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal metadata: %w", err)
	}
	if ep.RetryPolicy.MaxAttempts == 0 {
		ep.RetryPolicy = retry.Default()
	}
	return &ep, nil
}

// marshalNullable maps nil pointers and empty maps to SQL NULL.
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]string:
		if len(val) == 0 {
			return nil, nil
		}
	case *endpoint.RateLimit:
		if val == nil {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(raw []byte, dst *map[string]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
