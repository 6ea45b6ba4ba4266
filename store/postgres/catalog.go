package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hooklinehq/hookline/catalog"
	"github.com/hooklinehq/hookline/health"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/store"
)

const eventTypeColumns = `id, name, description, schema, deprecated, created_at, updated_at`

// CreateEventType persists an event type definition.
func (s *Store) CreateEventType(ctx context.Context, et *catalog.EventType) error {
	var schema []byte
	if len(et.Schema) > 0 {
		schema = []byte(et.Schema)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_types (`+eventTypeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		et.ID, et.Name, et.Description, schema, et.Deprecated,
		et.CreatedAt, et.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create event type: %w", err)
	}
	return nil
}

// GetEventTypeByName returns a definition by name.
func (s *Store) GetEventTypeByName(ctx context.Context, name string) (*catalog.EventType, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventTypeColumns+` FROM event_types WHERE name = $1`, name)
	et, err := scanEventType(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event type %q: %w", name, store.ErrNotFound)
	}
	return et, err
}

// ListEventTypes returns all definitions sorted by name.
func (s *Store) ListEventTypes(ctx context.Context) ([]*catalog.EventType, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventTypeColumns+` FROM event_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list event types: %w", err)
	}
	defer rows.Close()

	var out []*catalog.EventType
	for rows.Next() {
		et, err := scanEventType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

// UpdateEventType modifies a definition.
func (s *Store) UpdateEventType(ctx context.Context, et *catalog.EventType) error {
	var schema []byte
	if len(et.Schema) > 0 {
		schema = []byte(et.Schema)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE event_types
		SET description = $2, schema = $3, deprecated = $4, updated_at = $5
		WHERE name = $1`,
		et.Name, et.Description, schema, et.Deprecated, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: update event type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event type %q: %w", et.Name, store.ErrNotFound)
	}
	return nil
}

func scanEventType(row pgx.Row) (*catalog.EventType, error) {
	var (
		et     catalog.EventType
		schema []byte
	)
	err := row.Scan(&et.ID, &et.Name, &et.Description, &schema,
		&et.Deprecated, &et.CreatedAt, &et.UpdatedAt)
	if err != nil {
		return nil, err
	}
	et.Schema = json.RawMessage(schema)
	return &et, nil
}

// SaveSnapshot upserts the latest health snapshot for an endpoint.
func (s *Store) SaveSnapshot(ctx context.Context, snap *health.Snapshot) error {
	issues, err := json.Marshal(snap.Issues)
	if err != nil {
		return fmt.Errorf("postgres: marshal issues: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO health_snapshots (endpoint_id, healthy,
			consecutive_failures, uptime_percent, avg_latency_ms,
			total_deliveries, issues, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (endpoint_id) DO UPDATE SET
			healthy = EXCLUDED.healthy,
			consecutive_failures = EXCLUDED.consecutive_failures,
			uptime_percent = EXCLUDED.uptime_percent,
			avg_latency_ms = EXCLUDED.avg_latency_ms,
			total_deliveries = EXCLUDED.total_deliveries,
			issues = EXCLUDED.issues,
			checked_at = EXCLUDED.checked_at`,
		snap.EndpointID, snap.Healthy, snap.ConsecutiveFailures,
		snap.UptimePercent, snap.AvgLatencyMs, snap.TotalDeliveries,
		issues, snap.CheckedAt)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the latest health snapshot for an endpoint.
func (s *Store) GetSnapshot(ctx context.Context, epID id.ID) (*health.Snapshot, error) {
	var (
		snap   health.Snapshot
		issues []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT endpoint_id, healthy, consecutive_failures, uptime_percent,
			avg_latency_ms, total_deliveries, issues, checked_at
		FROM health_snapshots WHERE endpoint_id = $1`, epID).
		Scan(&snap.EndpointID, &snap.Healthy, &snap.ConsecutiveFailures,
			&snap.UptimePercent, &snap.AvgLatencyMs, &snap.TotalDeliveries,
			&issues, &snap.CheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for %s: %w", epID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get snapshot: %w", err)
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &snap.Issues); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal issues: %w", err)
		}
	}
	return &snap, nil
}
