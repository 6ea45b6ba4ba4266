package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
	"github.com/hooklinehq/hookline/store"
)

func pendingDelivery(due time.Time) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:        entity.At(due),
		ID:            id.NewDeliveryID(),
		EventID:       id.NewEventID(),
		EndpointID:    id.NewEndpointID(),
		Status:        delivery.StatusPending,
		MaxAttempts:   5,
		NextAttemptAt: &due,
	}
}

func TestDequeueDueOrderAndDueFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	late := pendingDelivery(base.Add(time.Hour))
	first := pendingDelivery(base.Add(-2 * time.Minute))
	second := pendingDelivery(base.Add(-time.Minute))
	s.EnqueueBatch(ctx, []*delivery.Delivery{late, second, first})

	got, err := s.DequeueDue(ctx, base, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("claimed %d, want 2 (future delivery must stay)", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("wrong order: got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestDequeueDueNeverDoubleClaims(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	const total = 200
	for i := 0; i < total; i++ {
		s.Enqueue(ctx, pendingDelivery(now.Add(-time.Second)))
	}

	var mu sync.Mutex
	seen := make(map[id.ID]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.DequeueDue(ctx, now, 10)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, d := range batch {
					seen[d.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct deliveries, want %d", len(seen), total)
	}
	for dID, n := range seen {
		if n != 1 {
			t.Fatalf("delivery %s claimed %d times", dID, n)
		}
	}
}

func TestUpdateReleasesClaimAndTerminalStaysOut(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	d := pendingDelivery(now.Add(-time.Second))
	s.Enqueue(ctx, d)

	claimed, _ := s.DequeueDue(ctx, now, 1)
	if len(claimed) != 1 {
		t.Fatal("expected one claim")
	}

	// While claimed, not visible.
	if again, _ := s.DequeueDue(ctx, now, 1); len(again) != 0 {
		t.Fatal("claimed delivery must be invisible")
	}

	// Release back as pending with a future retry.
	next := now.Add(time.Minute)
	claimed[0].NextAttemptAt = &next
	s.UpdateDelivery(ctx, claimed[0])

	if due, _ := s.DequeueDue(ctx, next, 1); len(due) != 1 {
		t.Fatal("released delivery must be claimable at its retry time")
	}

	// Terminal transition removes it from the queue for good.
	claimed[0].Status = delivery.StatusDelivered
	claimed[0].NextAttemptAt = nil
	s.UpdateDelivery(ctx, claimed[0])

	if due, _ := s.DequeueDue(ctx, next.Add(time.Hour), 10); len(due) != 0 {
		t.Fatal("terminal delivery must never be claimed")
	}
}

func TestRebuildQueueReleasesStaleClaims(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	d := pendingDelivery(now.Add(-time.Second))
	s.Enqueue(ctx, d)

	// Simulate a crash: claim taken, process dies before updating.
	if claimed, _ := s.DequeueDue(ctx, now, 1); len(claimed) != 1 {
		t.Fatal("expected claim")
	}
	if due, _ := s.DequeueDue(ctx, now, 1); len(due) != 0 {
		t.Fatal("claim should be held")
	}

	if err := s.RebuildQueue(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if due, _ := s.DequeueDue(ctx, now, 1); len(due) != 1 {
		t.Fatal("rebuild must release stale claims")
	}
}

func TestListByEndpointFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	epID := id.NewEndpointID()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		due := base.Add(time.Duration(i) * time.Minute)
		d := pendingDelivery(due)
		d.EndpointID = epID
		if i%2 == 0 {
			d.Status = delivery.StatusDelivered
			d.NextAttemptAt = nil
		}
		s.Enqueue(ctx, d)
	}

	all, _ := s.ListByEndpoint(ctx, epID, delivery.ListOpts{})
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatal("list must be newest first")
		}
	}

	delivered, _ := s.ListByEndpoint(ctx, epID, delivery.ListOpts{Status: delivery.StatusDelivered})
	if len(delivered) != 3 {
		t.Errorf("delivered = %d, want 3", len(delivered))
	}

	recent, _ := s.ListByEndpoint(ctx, epID, delivery.ListOpts{Since: base.Add(3 * time.Minute)})
	if len(recent) != 2 {
		t.Errorf("since filter = %d, want 2", len(recent))
	}

	page, _ := s.ListByEndpoint(ctx, epID, delivery.ListOpts{Offset: 4, Limit: 10})
	if len(page) != 1 {
		t.Errorf("page = %d, want 1", len(page))
	}
}

func TestEndpointCRUDAndNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	ep := &endpoint.Endpoint{
		Entity:     entity.New(),
		ID:         id.NewEndpointID(),
		TenantID:   "acme",
		URL:        "https://example.com/hooks",
		EventTypes: []string{"invoice.paid"},
		Active:     true,
	}
	if err := s.CreateEndpoint(ctx, ep); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateEndpoint(ctx, ep); err == nil {
		t.Error("duplicate create must fail")
	}

	if _, err := s.GetEndpoint(ctx, id.NewEndpointID()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// Mutating the returned copy must not leak into the store.
	got, _ := s.GetEndpoint(ctx, ep.ID)
	got.EventTypes[0] = "mutated"
	fresh, _ := s.GetEndpoint(ctx, ep.ID)
	if fresh.EventTypes[0] != "invoice.paid" {
		t.Error("store handed out a shared slice")
	}

	if err := s.SetActive(ctx, ep.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if active, _ := s.ListActiveByTenant(ctx, "acme"); len(active) != 0 {
		t.Error("deactivated endpoint still listed active")
	}
	if all, _ := s.ListEndpoints(ctx, "acme", endpoint.ListOpts{}); len(all) != 1 {
		t.Error("deactivated endpoint must remain listed")
	}
}
