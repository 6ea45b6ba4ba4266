// Package memory provides an in-process store, suitable for tests and
// single-node deployments that can tolerate losing queue state on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hooklinehq/hookline/catalog"
	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/dlq"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/health"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	endpoints  map[id.ID]*endpoint.Endpoint
	deliveries map[id.ID]*delivery.Delivery
	dlqEntries map[id.ID]*dlq.Entry
	eventTypes map[string]*catalog.EventType
	snapshots  map[id.ID]*health.Snapshot

	// claims marks deliveries handed out by DequeueDue and not yet
	// released by UpdateDelivery.
	claims map[id.ID]bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		endpoints:  make(map[id.ID]*endpoint.Endpoint),
		deliveries: make(map[id.ID]*delivery.Delivery),
		dlqEntries: make(map[id.ID]*dlq.Entry),
		eventTypes: make(map[string]*catalog.EventType),
		snapshots:  make(map[id.ID]*health.Snapshot),
		claims:     make(map[id.ID]bool),
	}
}

var _ store.Store = (*Store)(nil)

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; ok {
		return fmt.Errorf("endpoint %s already exists", ep.ID)
	}
	s.endpoints[ep.ID] = copyEndpoint(ep)
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(_ context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[epID]
	if !ok {
		return nil, fmt.Errorf("endpoint %s: %w", epID, store.ErrNotFound)
	}
	return copyEndpoint(ep), nil
}

// UpdateEndpoint modifies an existing endpoint.
func (s *Store) UpdateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return fmt.Errorf("endpoint %s: %w", ep.ID, store.ErrNotFound)
	}
	s.endpoints[ep.ID] = copyEndpoint(ep)
	return nil
}

// ListEndpoints returns a tenant's endpoints, newest first.
func (s *Store) ListEndpoints(_ context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if ep.TenantID != tenantID {
			continue
		}
		if opts.Active != nil && ep.Active != *opts.Active {
			continue
		}
		out = append(out, copyEndpoint(ep))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ListActiveByTenant returns all active endpoints for a tenant.
func (s *Store) ListActiveByTenant(ctx context.Context, tenantID string) ([]*endpoint.Endpoint, error) {
	active := true
	return s.ListEndpoints(ctx, tenantID, endpoint.ListOpts{Active: &active})
}

// ListActiveEndpoints returns all active endpoints across tenants.
func (s *Store) ListActiveEndpoints(_ context.Context) ([]*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if ep.Active {
			out = append(out, copyEndpoint(ep))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SetActive flips the active flag without touching anything else.
func (s *Store) SetActive(_ context.Context, epID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[epID]
	if !ok {
		return fmt.Errorf("endpoint %s: %w", epID, store.ErrNotFound)
	}
	ep.Active = active
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

// Enqueue persists a new pending delivery.
func (s *Store) Enqueue(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = copyDelivery(d)
	return nil
}

// EnqueueBatch persists a batch of deliveries under one lock acquisition.
func (s *Store) EnqueueBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range ds {
		s.deliveries[d.ID] = copyDelivery(d)
	}
	return nil
}

// DequeueDue claims due pending deliveries in NextAttemptAt order. The claim
// set is updated under the same lock as the scan, so concurrent callers
// never see the same delivery.
func (s *Store) DequeueDue(_ context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.Status != delivery.StatusPending || s.claims[d.ID] {
			continue
		}
		if d.NextAttemptAt == nil || d.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, d)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*delivery.Delivery, 0, len(due))
	for _, d := range due {
		s.claims[d.ID] = true
		out = append(out, copyDelivery(d))
	}
	return out, nil
}

// UpdateDelivery persists a transition and releases the claim.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		return fmt.Errorf("delivery %s: %w", d.ID, store.ErrNotFound)
	}
	s.deliveries[d.ID] = copyDelivery(d)
	delete(s.claims, d.ID)
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(_ context.Context, dID id.ID) (*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[dID]
	if !ok {
		return nil, fmt.Errorf("delivery %s: %w", dID, store.ErrNotFound)
	}
	return copyDelivery(d), nil
}

// ListByEndpoint returns an endpoint's deliveries, newest first.
func (s *Store) ListByEndpoint(_ context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.EndpointID != epID {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		if !opts.Since.IsZero() && d.CreatedAt.Before(opts.Since) {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ListByEvent returns all deliveries fanned out from one event.
func (s *Store) ListByEvent(_ context.Context, eventID id.ID) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.EventID == eventID {
			out = append(out, copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountPending returns the number of pending deliveries.
func (s *Store) CountPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.deliveries {
		if d.Status == delivery.StatusPending {
			n++
		}
	}
	return n, nil
}

// RebuildQueue releases all claims. Pending rows are the queue, so there is
// nothing else to rebuild in memory.
func (s *Store) RebuildQueue(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = make(map[id.ID]bool)
	return nil
}

// PushDLQ persists a dead letter entry.
func (s *Store) PushDLQ(_ context.Context, e *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dlqEntries[e.ID] = copyDLQEntry(e)
	return nil
}

// GetDLQEntry returns an entry by ID.
func (s *Store) GetDLQEntry(_ context.Context, entryID id.ID) (*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dlqEntries[entryID]
	if !ok {
		return nil, fmt.Errorf("dlq entry %s: %w", entryID, store.ErrNotFound)
	}
	return copyDLQEntry(e), nil
}

// ListDLQ returns entries, newest first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*dlq.Entry
	for _, e := range s.dlqEntries {
		if !opts.EndpointID.IsNil() && e.EndpointID != opts.EndpointID {
			continue
		}
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		out = append(out, copyDLQEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts.Offset, opts.Limit), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dlqEntries), nil
}

// MarkReplayed records the replay on an entry.
func (s *Store) MarkReplayed(_ context.Context, entryID, deliveryID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dlqEntries[entryID]
	if !ok {
		return fmt.Errorf("dlq entry %s: %w", entryID, store.ErrNotFound)
	}
	e.ReplayedAt = &at
	e.ReplayDeliveryID = deliveryID
	e.UpdatedAt = at
	return nil
}

// PurgeDLQ deletes entries created before the cutoff.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for entryID, e := range s.dlqEntries {
		if e.CreatedAt.Before(before) {
			delete(s.dlqEntries, entryID)
			n++
		}
	}
	return n, nil
}

// CreateEventType persists an event type definition.
func (s *Store) CreateEventType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.eventTypes[et.Name]; ok {
		return fmt.Errorf("event type %q already exists", et.Name)
	}
	s.eventTypes[et.Name] = copyEventType(et)
	return nil
}

// GetEventTypeByName returns a definition by name.
func (s *Store) GetEventTypeByName(_ context.Context, name string) (*catalog.EventType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	et, ok := s.eventTypes[name]
	if !ok {
		return nil, fmt.Errorf("event type %q: %w", name, store.ErrNotFound)
	}
	return copyEventType(et), nil
}

// ListEventTypes returns all definitions sorted by name.
func (s *Store) ListEventTypes(_ context.Context) ([]*catalog.EventType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*catalog.EventType
	for _, et := range s.eventTypes {
		out = append(out, copyEventType(et))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateEventType modifies a definition.
func (s *Store) UpdateEventType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.eventTypes[et.Name]; !ok {
		return fmt.Errorf("event type %q: %w", et.Name, store.ErrNotFound)
	}
	s.eventTypes[et.Name] = copyEventType(et)
	return nil
}

// SaveSnapshot stores the latest health snapshot for an endpoint.
func (s *Store) SaveSnapshot(_ context.Context, snap *health.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snapshots[snap.EndpointID] = &cp
	return nil
}

// GetSnapshot returns the latest health snapshot for an endpoint.
func (s *Store) GetSnapshot(_ context.Context, epID id.ID) (*health.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[epID]
	if !ok {
		return nil, fmt.Errorf("snapshot for %s: %w", epID, store.ErrNotFound)
	}
	cp := *snap
	return &cp, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func copyEndpoint(ep *endpoint.Endpoint) *endpoint.Endpoint {
	cp := *ep
	cp.EventTypes = append([]string(nil), ep.EventTypes...)
	cp.Headers = copyMap(ep.Headers)
	cp.Metadata = copyMap(ep.Metadata)
	if ep.RateLimit != nil {
		rl := *ep.RateLimit
		cp.RateLimit = &rl
	}
	return &cp
}

func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	cp.Envelope = append([]byte(nil), d.Envelope...)
	cp.ResponseHeaders = copyMap(d.ResponseHeaders)
	return &cp
}

func copyDLQEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	cp.Envelope = append([]byte(nil), e.Envelope...)
	return &cp
}

func copyEventType(et *catalog.EventType) *catalog.EventType {
	cp := *et
	cp.Schema = append([]byte(nil), et.Schema...)
	return &cp
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
