package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/store"
)

const deliveryColumns = `id, event_id, endpoint_id, tenant_id, event_type,
	envelope, status, attempts, max_attempts, last_attempt_at,
	next_attempt_at, response_status, response_body, response_headers,
	latency_ms, error_message, delivered_at, created_at, updated_at`

// Enqueue persists a new pending delivery.
func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	return s.EnqueueBatch(ctx, []*delivery.Delivery{d})
}

// EnqueueBatch persists a batch of deliveries in a single transaction so an
// event's fan-out is all-or-nothing.
func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range ds {
		headers, err := marshalNullable(d.ResponseHeaders)
		if err != nil {
			return fmt.Errorf("postgres: marshal response headers: %w", err)
		}
		batch.Queue(`
			INSERT INTO deliveries (`+deliveryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17, $18, $19)`,
			d.ID, d.EventID, d.EndpointID, d.TenantID, d.EventType,
			[]byte(d.Envelope), string(d.Status), d.Attempts, d.MaxAttempts,
			d.LastAttemptAt, d.NextAttemptAt, d.ResponseStatus, d.ResponseBody,
			headers, d.LatencyMs, d.ErrorMessage, d.DeliveredAt,
			d.CreatedAt, d.UpdatedAt)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: enqueue batch: %w", err)
	}
	return tx.Commit(ctx)
}

// DequeueDue claims due pending rows with FOR UPDATE SKIP LOCKED, stamping
// claimed_at so crashed workers release their rows after the claim timeout.
func (s *Store) DequeueDue(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM deliveries
			WHERE status = 'pending'
			  AND next_attempt_at <= $1
			  AND (claimed_at IS NULL OR claimed_at < $2)
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE deliveries d SET claimed_at = $1
		FROM due WHERE d.id = due.id
		RETURNING `+prefixColumns("d", deliveryColumns),
		now, now.Add(-claimTimeout), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: dequeue: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

// UpdateDelivery persists a transition and releases the claim.
func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	headers, err := marshalNullable(d.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("postgres: marshal response headers: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE deliveries SET
			status = $2, attempts = $3, last_attempt_at = $4,
			next_attempt_at = $5, response_status = $6, response_body = $7,
			response_headers = $8, latency_ms = $9, error_message = $10,
			delivered_at = $11, claimed_at = NULL, updated_at = $12
		WHERE id = $1`,
		d.ID, string(d.Status), d.Attempts, d.LastAttemptAt,
		d.NextAttemptAt, d.ResponseStatus, d.ResponseBody,
		headers, d.LatencyMs, d.ErrorMessage, d.DeliveredAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delivery %s: %w", d.ID, store.ErrNotFound)
	}
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, dID id.ID) (*delivery.Delivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, dID)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("delivery %s: %w", dID, store.ErrNotFound)
	}
	return d, err
}

// ListByEndpoint returns an endpoint's deliveries, newest first.
func (s *Store) ListByEndpoint(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var since *time.Time
	if !opts.Since.IsZero() {
		since = &opts.Since
	}
	var status *string
	if opts.Status != "" {
		st := string(opts.Status)
		status = &st
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE endpoint_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC
		OFFSET $4 LIMIT $5`,
		epID, status, since, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deliveries: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

// ListByEvent returns all deliveries fanned out from one event.
func (s *Store) ListByEvent(ctx context.Context, eventID id.ID) ([]*delivery.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE event_id = $1 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by event: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

// CountPending returns the number of pending deliveries.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM deliveries WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count pending: %w", err)
	}
	return n, nil
}

// RebuildQueue clears claim stamps left by a previous process. Pending rows
// are the queue itself, so nothing else needs rebuilding.
func (s *Store) RebuildQueue(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE deliveries SET claimed_at = NULL WHERE status = 'pending'`)
	if err != nil {
		return fmt.Errorf("postgres: rebuild queue: %w", err)
	}
	return nil
}

func collectDeliveries(rows pgx.Rows) ([]*delivery.Delivery, error) {
	var out []*delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDelivery(row pgx.Row) (*delivery.Delivery, error) {
	var (
		d        delivery.Delivery
		envelope []byte
		status   string
		headers  []byte
	)
	err := row.Scan(&d.ID, &d.EventID, &d.EndpointID, &d.TenantID, &d.EventType,
		&envelope, &status, &d.Attempts, &d.MaxAttempts, &d.LastAttemptAt,
		&d.NextAttemptAt, &d.ResponseStatus, &d.ResponseBody, &headers,
		&d.LatencyMs, &d.ErrorMessage, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.Envelope = json.RawMessage(envelope)
	d.Status = delivery.Status(status)
	if err := unmarshalNullable(headers, &d.ResponseHeaders); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal response headers: %w", err)
	}
	return &d, nil
}

// prefixColumns qualifies a comma-separated column list with a table alias
// for use in UPDATE ... RETURNING.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
