package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hooklinehq/hookline/dlq"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/store"
)

const dlqColumns = `id, delivery_id, event_id, endpoint_id, tenant_id,
	event_type, envelope, attempts, reason, replayed_at, replay_delivery_id,
	created_at, updated_at`

// PushDLQ persists a dead letter entry.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dlq_entries (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.DeliveryID, e.EventID, e.EndpointID, e.TenantID,
		e.EventType, []byte(e.Envelope), e.Attempts, e.Reason,
		e.ReplayedAt, e.ReplayDeliveryID, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: push dlq: %w", err)
	}
	return nil
}

// GetDLQEntry returns an entry by ID.
func (s *Store) GetDLQEntry(ctx context.Context, entryID id.ID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM dlq_entries WHERE id = $1`, entryID)
	e, err := scanDLQEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dlq entry %s: %w", entryID, store.ErrNotFound)
	}
	return e, err
}

// ListDLQ returns entries, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var epID *id.ID
	if !opts.EndpointID.IsNil() {
		epID = &opts.EndpointID
	}
	var tenantID *string
	if opts.TenantID != "" {
		tenantID = &opts.TenantID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+dlqColumns+` FROM dlq_entries
		WHERE ($1::text IS NULL OR endpoint_id = $1)
		  AND ($2::text IS NULL OR tenant_id = $2)
		ORDER BY created_at DESC
		OFFSET $3 LIMIT $4`,
		epID, tenantID, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var out []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM dlq_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count dlq: %w", err)
	}
	return n, nil
}

// MarkReplayed records the replay on an entry.
func (s *Store) MarkReplayed(ctx context.Context, entryID, deliveryID id.ID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dlq_entries
		SET replayed_at = $2, replay_delivery_id = $3, updated_at = $2
		WHERE id = $1`,
		entryID, at, deliveryID)
	if err != nil {
		return fmt.Errorf("postgres: mark replayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dlq entry %s: %w", entryID, store.ErrNotFound)
	}
	return nil
}

// PurgeDLQ deletes entries created before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dlq_entries WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge dlq: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanDLQEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		envelope []byte
	)
	err := row.Scan(&e.ID, &e.DeliveryID, &e.EventID, &e.EndpointID,
		&e.TenantID, &e.EventType, &envelope, &e.Attempts, &e.Reason,
		&e.ReplayedAt, &e.ReplayDeliveryID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Envelope = json.RawMessage(envelope)
	return &e, nil
}
