package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hooklinehq/hookline/internal/entity"
)

type memCatalogStore struct {
	mu      sync.Mutex
	types   map[string]*EventType
	reads   int
	readErr error // when set, GetEventTypeByName fails with it
}

func newMemCatalogStore() *memCatalogStore {
	return &memCatalogStore{types: make(map[string]*EventType)}
}

func (s *memCatalogStore) CreateEventType(_ context.Context, et *EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.types[et.Name]; ok {
		return errors.New("event type exists")
	}
	cp := *et
	s.types[et.Name] = &cp
	return nil
}

func (s *memCatalogStore) GetEventTypeByName(_ context.Context, name string) (*EventType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return nil, s.readErr
	}
	et, ok := s.types[name]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *et
	return &cp, nil
}

func (s *memCatalogStore) ListEventTypes(context.Context) ([]*EventType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*EventType
	for _, et := range s.types {
		cp := *et
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memCatalogStore) UpdateEventType(_ context.Context, et *EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *et
	s.types[et.Name] = &cp
	return nil
}

const invoiceSchema = `{
	"type": "object",
	"required": ["amount", "currency"],
	"properties": {
		"amount": {"type": "number", "minimum": 0},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3}
	}
}`

func TestDeclareRejectsBadNamesAndSchemas(t *testing.T) {
	svc := NewService(newMemCatalogStore(), 0)

	if _, err := svc.Declare(context.Background(), "InvoicePaid", "", nil, false); err == nil {
		t.Error("expected error for name without dot separator")
	}
	if _, err := svc.Declare(context.Background(), "invoice.paid", "", json.RawMessage(`{"type": 42}`), false); err == nil {
		t.Error("expected error for invalid schema")
	}
	if _, err := svc.Declare(context.Background(), "invoice.paid", "", json.RawMessage(invoiceSchema), false); err != nil {
		t.Errorf("valid declaration failed: %v", err)
	}
}

func TestValidateTriggerAgainstSchema(t *testing.T) {
	svc := NewService(newMemCatalogStore(), 0)
	if _, err := svc.Declare(context.Background(), "invoice.paid", "", json.RawMessage(invoiceSchema), false); err != nil {
		t.Fatalf("declare: %v", err)
	}

	ok := map[string]any{"amount": 42.5, "currency": "EUR"}
	if err := svc.ValidateTrigger(context.Background(), "invoice.paid", ok); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}

	bad := map[string]any{"amount": -1}
	err := svc.ValidateTrigger(context.Background(), "invoice.paid", bad)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %v, want SchemaError", err)
	}
}

func TestValidateTriggerUndeclaredTypePasses(t *testing.T) {
	svc := NewService(newMemCatalogStore(), 0)

	if err := svc.ValidateTrigger(context.Background(), "anything.goes", map[string]any{"x": 1}); err != nil {
		t.Errorf("undeclared type must pass, got %v", err)
	}
}

func TestValidateTriggerDeprecatedType(t *testing.T) {
	svc := NewService(newMemCatalogStore(), 0)
	if _, err := svc.Declare(context.Background(), "legacy.event", "", nil, false); err != nil {
		t.Fatalf("declare: %v", err)
	}
	if err := svc.Deprecate(context.Background(), "legacy.event"); err != nil {
		t.Fatalf("deprecate: %v", err)
	}

	err := svc.ValidateTrigger(context.Background(), "legacy.event", nil)
	if !errors.Is(err, ErrDeprecatedEventType) {
		t.Errorf("err = %v, want ErrDeprecatedEventType", err)
	}
}

func TestValidateTriggerStoreErrorIsNotAMiss(t *testing.T) {
	store := newMemCatalogStore()
	svc := NewService(store, time.Minute)
	if _, err := svc.Declare(context.Background(), "invoice.paid", "", json.RawMessage(invoiceSchema), false); err != nil {
		t.Fatalf("declare: %v", err)
	}
	store.mu.Lock()
	store.readErr = errors.New("dial tcp: connection refused")
	store.mu.Unlock()

	// An unreachable store surfaces as an error, it must not disable
	// validation by caching the type as undeclared.
	bad := map[string]any{"amount": -1}
	if err := svc.ValidateTrigger(context.Background(), "invoice.paid", bad); err == nil {
		t.Fatal("store outage swallowed, trigger passed validation")
	}

	store.mu.Lock()
	store.readErr = nil
	store.mu.Unlock()

	err := svc.ValidateTrigger(context.Background(), "invoice.paid", bad)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("after recovery err = %v, want SchemaError", err)
	}
}

func TestValidateTriggerCachesCompiledSchemas(t *testing.T) {
	store := newMemCatalogStore()
	svc := NewService(store, time.Minute)
	if _, err := svc.Declare(context.Background(), "invoice.paid", "", json.RawMessage(invoiceSchema), false); err != nil {
		t.Fatalf("declare: %v", err)
	}

	payload := map[string]any{"amount": 1.0, "currency": "USD"}
	for i := 0; i < 10; i++ {
		if err := svc.ValidateTrigger(context.Background(), "invoice.paid", payload); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}

	store.mu.Lock()
	reads := store.reads
	store.mu.Unlock()
	if reads != 1 {
		t.Errorf("store reads = %d, want 1 (cached)", reads)
	}

	// Misses are cached too.
	for i := 0; i < 10; i++ {
		svc.ValidateTrigger(context.Background(), "unknown.type", payload)
	}
	store.mu.Lock()
	missReads := store.reads - reads
	store.mu.Unlock()
	if missReads != 1 {
		t.Errorf("miss reads = %d, want 1", missReads)
	}
}
