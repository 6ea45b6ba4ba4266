package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
	"github.com/hooklinehq/hookline/retry"
)

type memDLQStore struct {
	mu      sync.Mutex
	entries map[id.ID]*Entry
}

func newMemDLQStore() *memDLQStore {
	return &memDLQStore{entries: make(map[id.ID]*Entry)}
}

func (s *memDLQStore) PushDLQ(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *memDLQStore) GetDLQEntry(_ context.Context, entryID id.ID) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, errors.New("dlq entry not found")
	}
	cp := *e
	return &cp, nil
}

func (s *memDLQStore) ListDLQ(_ context.Context, opts ListOpts) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Entry
	for _, e := range s.entries {
		if !opts.EndpointID.IsNil() && e.EndpointID != opts.EndpointID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memDLQStore) CountDLQ(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *memDLQStore) MarkReplayed(_ context.Context, entryID, deliveryID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return errors.New("dlq entry not found")
	}
	e.ReplayedAt = &at
	e.ReplayDeliveryID = deliveryID
	return nil
}

func (s *memDLQStore) PurgeDLQ(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for entryID, e := range s.entries {
		if e.CreatedAt.Before(before) {
			delete(s.entries, entryID)
			n++
		}
	}
	return n, nil
}

// enqueueRecorder implements delivery.Store, recording enqueued deliveries.
type enqueueRecorder struct {
	mu       sync.Mutex
	enqueued []*delivery.Delivery
}

func (r *enqueueRecorder) Enqueue(_ context.Context, d *delivery.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.enqueued = append(r.enqueued, &cp)
	return nil
}

func (r *enqueueRecorder) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	for _, d := range ds {
		if err := r.Enqueue(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *enqueueRecorder) DequeueDue(context.Context, time.Time, int) ([]*delivery.Delivery, error) {
	return nil, nil
}
func (r *enqueueRecorder) UpdateDelivery(context.Context, *delivery.Delivery) error { return nil }
func (r *enqueueRecorder) GetDelivery(context.Context, id.ID) (*delivery.Delivery, error) {
	return nil, errors.New("not found")
}
func (r *enqueueRecorder) ListByEndpoint(context.Context, id.ID, delivery.ListOpts) ([]*delivery.Delivery, error) {
	return nil, nil
}
func (r *enqueueRecorder) ListByEvent(context.Context, id.ID) ([]*delivery.Delivery, error) {
	return nil, nil
}
func (r *enqueueRecorder) CountPending(context.Context) (int, error) { return 0, nil }
func (r *enqueueRecorder) RebuildQueue(context.Context) error        { return nil }

type staticEndpoints struct {
	eps map[id.ID]*endpoint.Endpoint
}

func (s *staticEndpoints) Get(_ context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	ep, ok := s.eps[epID]
	if !ok {
		return nil, errors.New("endpoint not found")
	}
	return ep, nil
}

func deadDelivery(epID id.ID) *delivery.Delivery {
	now := time.Now().UTC()
	return &delivery.Delivery{
		Entity:      entity.At(now),
		ID:          id.NewDeliveryID(),
		EventID:     id.NewEventID(),
		EndpointID:  epID,
		TenantID:    "acme",
		EventType:   "invoice.paid",
		Envelope:    json.RawMessage(`{"event_type":"invoice.paid","data":{"amount":42}}`),
		Status:      delivery.StatusDeadLetter,
		Attempts:    5,
		MaxAttempts: 5,
	}
}

func TestPushFailedAndList(t *testing.T) {
	store := newMemDLQStore()
	svc := NewService(store, &enqueueRecorder{}, &staticEndpoints{}, nil, nil)

	epID := id.NewEndpointID()
	d := deadDelivery(epID)
	if err := svc.PushFailed(context.Background(), d, "endpoint returned status 500"); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	entries, err := svc.List(context.Background(), ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.DeliveryID != d.ID || e.EndpointID != epID || e.EventID != d.EventID {
		t.Errorf("entry references wrong delivery: %+v", e)
	}
	if string(e.Envelope) != string(d.Envelope) {
		t.Error("envelope must be carried over verbatim")
	}
	if e.Attempts != 5 || e.Reason != "endpoint returned status 500" {
		t.Errorf("attempts/reason not recorded: %+v", e)
	}

	if n, _ := svc.Count(context.Background()); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestReplayCreatesFreshDelivery(t *testing.T) {
	store := newMemDLQStore()
	rec := &enqueueRecorder{}

	ep := &endpoint.Endpoint{
		ID:          id.NewEndpointID(),
		Active:      true,
		RetryPolicy: retry.Policy{Strategy: retry.StrategyExponential, MaxAttempts: 7, InitialDelay: time.Second, Multiplier: 2},
	}
	svc := NewService(store, rec, &staticEndpoints{eps: map[id.ID]*endpoint.Endpoint{ep.ID: ep}}, nil, nil)

	orig := deadDelivery(ep.ID)
	if err := svc.PushFailed(context.Background(), orig, "timeout"); err != nil {
		t.Fatalf("push: %v", err)
	}
	entries, _ := svc.List(context.Background(), ListOpts{})
	entryID := entries[0].ID

	replayed, err := svc.Replay(context.Background(), entryID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if replayed.ID == orig.ID {
		t.Error("replay must create a new delivery, not reuse the original ID")
	}
	if replayed.Status != delivery.StatusPending {
		t.Errorf("status = %s, want pending", replayed.Status)
	}
	if replayed.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", replayed.Attempts)
	}
	if replayed.MaxAttempts != 7 {
		t.Errorf("max attempts = %d, want current endpoint policy 7", replayed.MaxAttempts)
	}
	if string(replayed.Envelope) != string(orig.Envelope) {
		t.Error("replayed envelope differs from original")
	}
	if replayed.NextAttemptAt == nil {
		t.Error("replayed delivery must be scheduled immediately")
	}
	if len(rec.enqueued) != 1 {
		t.Fatalf("enqueued %d deliveries, want 1", len(rec.enqueued))
	}

	// Entry is marked and cannot be replayed twice.
	e, _ := svc.Get(context.Background(), entryID)
	if e.ReplayedAt == nil || e.ReplayDeliveryID != replayed.ID {
		t.Errorf("entry not marked replayed: %+v", e)
	}
	if _, err := svc.Replay(context.Background(), entryID); !errors.Is(err, ErrAlreadyReplayed) {
		t.Errorf("second replay err = %v, want ErrAlreadyReplayed", err)
	}
}

func TestReplayInactiveEndpoint(t *testing.T) {
	store := newMemDLQStore()
	ep := &endpoint.Endpoint{ID: id.NewEndpointID(), Active: false}
	svc := NewService(store, &enqueueRecorder{}, &staticEndpoints{eps: map[id.ID]*endpoint.Endpoint{ep.ID: ep}}, nil, nil)

	svc.PushFailed(context.Background(), deadDelivery(ep.ID), "x")
	entries, _ := svc.List(context.Background(), ListOpts{})

	if _, err := svc.Replay(context.Background(), entries[0].ID); !errors.Is(err, ErrEndpointInactive) {
		t.Errorf("err = %v, want ErrEndpointInactive", err)
	}
}

func TestReplayBulkSkipsFailures(t *testing.T) {
	store := newMemDLQStore()
	rec := &enqueueRecorder{}
	ep := &endpoint.Endpoint{
		ID:          id.NewEndpointID(),
		Active:      true,
		RetryPolicy: retry.Default(),
	}
	svc := NewService(store, rec, &staticEndpoints{eps: map[id.ID]*endpoint.Endpoint{ep.ID: ep}}, nil, nil)

	for i := 0; i < 3; i++ {
		svc.PushFailed(context.Background(), deadDelivery(ep.ID), "x")
	}
	entries, _ := svc.List(context.Background(), ListOpts{})

	ids := []id.ID{entries[0].ID, entries[1].ID, entries[2].ID, id.NewDLQID()}
	n, err := svc.ReplayBulk(context.Background(), ids)
	if err != nil {
		t.Fatalf("bulk replay: %v", err)
	}
	if n != 3 {
		t.Errorf("replayed = %d, want 3 (missing entry skipped)", n)
	}
	if len(rec.enqueued) != 3 {
		t.Errorf("enqueued = %d, want 3", len(rec.enqueued))
	}
}

func TestPurgeRemovesOldEntries(t *testing.T) {
	store := newMemDLQStore()
	svc := NewService(store, &enqueueRecorder{}, &staticEndpoints{}, nil, nil)

	old := deadDelivery(id.NewEndpointID())
	svc.PushFailed(context.Background(), old, "x")

	// Backdate the stored entry.
	entries, _ := svc.List(context.Background(), ListOpts{})
	store.mu.Lock()
	store.entries[entries[0].ID].CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	store.mu.Unlock()

	svc.PushFailed(context.Background(), deadDelivery(id.NewEndpointID()), "y")

	n, err := svc.Purge(context.Background(), time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if count, _ := svc.Count(context.Background()); count != 1 {
		t.Errorf("remaining = %d, want 1", count)
	}
}
