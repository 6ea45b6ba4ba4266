package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/internal/entity"
)

var (
	// ErrDeprecatedEventType is returned when triggering a deprecated type.
	ErrDeprecatedEventType = errors.New("catalog: event type is deprecated")

	// ErrUnknownEventType is returned by Get for undeclared names.
	ErrUnknownEventType = errors.New("catalog: unknown event type")
)

// SchemaError describes a payload that failed schema validation.
type SchemaError struct {
	EventType string
	Cause     error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("catalog: payload for %q fails schema: %v", e.EventType, e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

var eventTypeName = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)+$`)

// Service declares event types and validates trigger payloads. Compiled
// schemas are cached with a TTL so the hot trigger path avoids recompiling.
type Service struct {
	store    Store
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]*cachedSchema
}

type cachedSchema struct {
	et       *EventType
	compiled *jsonschema.Schema
	loadedAt time.Time
	missing  bool
}

// NewService creates a catalog service. cacheTTL of zero disables caching.
func NewService(store Store, cacheTTL time.Duration) *Service {
	return &Service{
		store:    store,
		cacheTTL: cacheTTL,
		cache:    make(map[string]*cachedSchema),
	}
}

// Declare registers a new event type, compiling its schema up front so an
// invalid schema is rejected at declaration time rather than first trigger.
func (svc *Service) Declare(ctx context.Context, name, description string, schema json.RawMessage, deprecated bool) (*EventType, error) {
	if !eventTypeName.MatchString(name) {
		return nil, fmt.Errorf("catalog: invalid event type name %q", name)
	}
	if len(schema) > 0 {
		if _, err := compileSchema(name, schema); err != nil {
			return nil, fmt.Errorf("catalog: schema for %q: %w", name, err)
		}
	}

	et := &EventType{
		Entity:      entity.New(),
		ID:          id.NewEventTypeID(),
		Name:        name,
		Description: description,
		Schema:      schema,
		Deprecated:  deprecated,
	}
	if err := svc.store.CreateEventType(ctx, et); err != nil {
		return nil, err
	}
	svc.invalidate(name)
	return et, nil
}

// Get returns a declared event type by name.
func (svc *Service) Get(ctx context.Context, name string) (*EventType, error) {
	et, err := svc.store.GetEventTypeByName(ctx, name)
	if err != nil {
		return nil, errors.Join(ErrUnknownEventType, err)
	}
	return et, nil
}

// List returns all declared event types.
func (svc *Service) List(ctx context.Context) ([]*EventType, error) {
	return svc.store.ListEventTypes(ctx)
}

// Deprecate marks an event type so new triggers of it are rejected.
func (svc *Service) Deprecate(ctx context.Context, name string) error {
	et, err := svc.store.GetEventTypeByName(ctx, name)
	if err != nil {
		return errors.Join(ErrUnknownEventType, err)
	}
	et.Deprecated = true
	if err := svc.store.UpdateEventType(ctx, et); err != nil {
		return err
	}
	svc.invalidate(name)
	return nil
}

// ValidateTrigger checks a trigger against the catalog. Undeclared event
// types pass: the catalog constrains only what it was told about.
func (svc *Service) ValidateTrigger(ctx context.Context, eventType string, data any) error {
	entry, err := svc.lookup(ctx, eventType)
	if err != nil {
		return err
	}
	if entry == nil || entry.missing {
		return nil
	}
	if entry.et.Deprecated {
		return fmt.Errorf("%w: %s", ErrDeprecatedEventType, eventType)
	}
	if entry.compiled == nil {
		return nil
	}

	// The validator wants plain decoded JSON values, so typed payloads
	// take a round trip through encoding.
	normalized, err := normalize(data)
	if err != nil {
		return &SchemaError{EventType: eventType, Cause: err}
	}
	if err := entry.compiled.Validate(normalized); err != nil {
		return &SchemaError{EventType: eventType, Cause: err}
	}
	return nil
}

func (svc *Service) lookup(ctx context.Context, name string) (*cachedSchema, error) {
	if svc.cacheTTL > 0 {
		svc.mu.RLock()
		entry, ok := svc.cache[name]
		svc.mu.RUnlock()
		if ok && time.Since(entry.loadedAt) < svc.cacheTTL {
			return entry, nil
		}
	}

	et, err := svc.store.GetEventTypeByName(ctx, name)
	if errors.Is(err, entity.ErrNotFound) {
		// Undeclared types are cached as misses so repeated triggers do
		// not hammer the store.
		entry := &cachedSchema{missing: true, loadedAt: time.Now()}
		svc.put(name, entry)
		return entry, nil
	}
	if err != nil {
		// An unreachable store must not be mistaken for an undeclared
		// type: that would silently drop validation for a full TTL.
		return nil, fmt.Errorf("catalog: load event type %q: %w", name, err)
	}

	entry := &cachedSchema{et: et, loadedAt: time.Now()}
	if len(et.Schema) > 0 {
		compiled, err := compileSchema(name, et.Schema)
		if err != nil {
			return nil, fmt.Errorf("catalog: schema for %q: %w", name, err)
		}
		entry.compiled = compiled
	}
	svc.put(name, entry)
	return entry, nil
}

func (svc *Service) put(name string, entry *cachedSchema) {
	if svc.cacheTTL <= 0 {
		return
	}
	svc.mu.Lock()
	svc.cache[name] = entry
	svc.mu.Unlock()
}

func (svc *Service) invalidate(name string) {
	svc.mu.Lock()
	delete(svc.cache, name)
	svc.mu.Unlock()
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "hookline:///" + name + ".schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func normalize(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
