// Package redis provides the Redis store. The delivery queue is a sorted
// set scored by next attempt time; a Lua script pops due members so claims
// are atomic across processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hooklinehq/hookline/catalog"
	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/dlq"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/health"
	"github.com/hooklinehq/hookline/id"
	"github.com/hooklinehq/hookline/store"
)

const keyPrefix = "hookline:"

// claimScript pops up to ARGV[2] members of the queue due at or before
// ARGV[1]. Removal is the claim: a popped delivery is invisible to other
// workers until UpdateDelivery re-adds it or marks it terminal.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #due > 0 then
    redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`)

// Store implements store.Store on a Redis client.
type Store struct {
	client redis.UniversalClient
}

// New wraps a Redis client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Open connects to Redis using the given options.
func Open(ctx context.Context, opts *redis.Options) (*Store, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connect: %w", err)
	}
	return &Store{client: client}, nil
}

var _ store.Store = (*Store)(nil)

func key(parts ...string) string {
	out := keyPrefix
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}

func (s *Store) endpointKey(epID id.ID) string    { return key("ep", epID.String()) }
func (s *Store) tenantKey(tenantID string) string { return key("eps", "tenant", tenantID) }
func (s *Store) deliveryKey(dID id.ID) string     { return key("delivery", dID.String()) }
func (s *Store) byEndpointKey(epID id.ID) string  { return key("deliveries", "ep", epID.String()) }
func (s *Store) byEventKey(evtID id.ID) string    { return key("deliveries", "evt", evtID.String()) }
func (s *Store) dlqKey(entryID id.ID) string      { return key("dlq", entryID.String()) }
func (s *Store) healthKey(epID id.ID) string      { return key("health", epID.String()) }

var (
	allEndpointsKey = key("eps", "all")
	queueKey        = key("queue")
	pendingKey      = key("deliveries", "pending")
	dlqIndexKey     = key("dlq", "index")
	eventTypesKey   = key("eventtypes")
)

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	raw, err := marshalEndpoint(ep)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.endpointKey(ep.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: create endpoint: %w", err)
	}
	if !ok {
		return fmt.Errorf("redis: endpoint %s already exists", ep.ID)
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, allEndpointsKey, ep.ID.String())
	pipe.SAdd(ctx, s.tenantKey(ep.TenantID), ep.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: index endpoint: %w", err)
	}
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	raw, err := s.client.Get(ctx, s.endpointKey(epID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("endpoint %s: %w", epID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get endpoint: %w", err)
	}
	return unmarshalEndpoint(raw)
}

// UpdateEndpoint modifies an existing endpoint.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if _, err := s.GetEndpoint(ctx, ep.ID); err != nil {
		return err
	}
	raw, err := marshalEndpoint(ep)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.endpointKey(ep.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: update endpoint: %w", err)
	}
	return nil
}

// ListEndpoints returns a tenant's endpoints, newest first.
func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	eps, err := s.endpointsBySet(ctx, s.tenantKey(tenantID))
	if err != nil {
		return nil, err
	}
	var out []*endpoint.Endpoint
	for _, ep := range eps {
		if opts.Active != nil && ep.Active != *opts.Active {
			continue
		}
		out = append(out, ep)
	}
	sortNewestFirst(out, func(ep *endpoint.Endpoint) time.Time { return ep.CreatedAt })
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ListActiveByTenant returns all active endpoints for a tenant.
func (s *Store) ListActiveByTenant(ctx context.Context, tenantID string) ([]*endpoint.Endpoint, error) {
	active := true
	return s.ListEndpoints(ctx, tenantID, endpoint.ListOpts{Active: &active})
}

// ListActiveEndpoints returns all active endpoints across tenants.
func (s *Store) ListActiveEndpoints(ctx context.Context) ([]*endpoint.Endpoint, error) {
	eps, err := s.endpointsBySet(ctx, allEndpointsKey)
	if err != nil {
		return nil, err
	}
	var out []*endpoint.Endpoint
	for _, ep := range eps {
		if ep.Active {
			out = append(out, ep)
		}
	}
	sortNewestFirst(out, func(ep *endpoint.Endpoint) time.Time { return ep.CreatedAt })
	return out, nil
}

// SetActive flips the active flag.
func (s *Store) SetActive(ctx context.Context, epID id.ID, active bool) error {
	ep, err := s.GetEndpoint(ctx, epID)
	if err != nil {
		return err
	}
	ep.Active = active
	ep.UpdatedAt = time.Now().UTC()
	return s.UpdateEndpoint(ctx, ep)
}

func (s *Store) endpointsBySet(ctx context.Context, setKey string) ([]*endpoint.Endpoint, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read endpoint set: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, raw := range ids {
		epID, err := id.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("redis: corrupt endpoint id %q: %w", raw, err)
		}
		keys[i] = s.endpointKey(epID)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget endpoints: %w", err)
	}

	var out []*endpoint.Endpoint
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // index member without a value, skip
		}
		ep, err := unmarshalEndpoint([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// Enqueue persists a pending delivery and schedules it.
func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	return s.EnqueueBatch(ctx, []*delivery.Delivery{d})
}

// EnqueueBatch persists and schedules a batch atomically via MULTI.
func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, d := range ds {
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("redis: marshal delivery: %w", err)
		}
		dID := d.ID.String()
		pipe.Set(ctx, s.deliveryKey(d.ID), raw, 0)
		pipe.ZAdd(ctx, s.byEndpointKey(d.EndpointID), redis.Z{
			Score:  float64(d.CreatedAt.UnixMilli()),
			Member: dID,
		})
		pipe.SAdd(ctx, s.byEventKey(d.EventID), dID)
		if d.Status == delivery.StatusPending && d.NextAttemptAt != nil {
			pipe.SAdd(ctx, pendingKey, dID)
			pipe.ZAdd(ctx, queueKey, redis.Z{
				Score:  float64(d.NextAttemptAt.UnixMilli()),
				Member: dID,
			})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: enqueue batch: %w", err)
	}
	return nil
}

// DequeueDue pops due members from the queue via the claim script.
func (s *Store) DequeueDue(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	res, err := claimScript.Run(ctx, s.client, []string{queueKey},
		now.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis: claim due: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}

	keys := make([]string, len(res))
	for i, raw := range res {
		dID, err := id.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("redis: corrupt delivery id %q: %w", raw, err)
		}
		keys[i] = s.deliveryKey(dID)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget deliveries: %w", err)
	}

	var out []*delivery.Delivery
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var d delivery.Delivery
		if err := json.Unmarshal([]byte(str), &d); err != nil {
			return nil, fmt.Errorf("redis: unmarshal delivery: %w", err)
		}
		out = append(out, &d)
	}
	return out, nil
}

// UpdateDelivery persists a transition and reschedules or retires the
// delivery.
func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("redis: marshal delivery: %w", err)
	}
	dID := d.ID.String()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.deliveryKey(d.ID), raw, 0)
	if d.Status == delivery.StatusPending && d.NextAttemptAt != nil {
		pipe.SAdd(ctx, pendingKey, dID)
		pipe.ZAdd(ctx, queueKey, redis.Z{
			Score:  float64(d.NextAttemptAt.UnixMilli()),
			Member: dID,
		})
	} else {
		pipe.SRem(ctx, pendingKey, dID)
		pipe.ZRem(ctx, queueKey, dID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: update delivery: %w", err)
	}
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, dID id.ID) (*delivery.Delivery, error) {
	raw, err := s.client.Get(ctx, s.deliveryKey(dID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("delivery %s: %w", dID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get delivery: %w", err)
	}
	var d delivery.Delivery
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("redis: unmarshal delivery: %w", err)
	}
	return &d, nil
}

// ListByEndpoint returns an endpoint's deliveries, newest first.
func (s *Store) ListByEndpoint(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.client.ZRevRange(ctx, s.byEndpointKey(epID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list by endpoint: %w", err)
	}

	out, err := s.deliveriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var filtered []*delivery.Delivery
	for _, d := range out {
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		if !opts.Since.IsZero() && d.CreatedAt.Before(opts.Since) {
			continue
		}
		filtered = append(filtered, d)
	}
	return paginate(filtered, opts.Offset, opts.Limit), nil
}

// ListByEvent returns all deliveries fanned out from one event.
func (s *Store) ListByEvent(ctx context.Context, eventID id.ID) ([]*delivery.Delivery, error) {
	ids, err := s.client.SMembers(ctx, s.byEventKey(eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list by event: %w", err)
	}
	out, err := s.deliveriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out, func(d *delivery.Delivery) time.Time { return d.CreatedAt })
	return out, nil
}

// CountPending returns the number of pending deliveries.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count pending: %w", err)
	}
	return int(n), nil
}

// RebuildQueue re-adds every pending delivery to the queue. Recovers claims
// popped by a process that died before releasing them.
func (s *Store) RebuildQueue(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, pendingKey).Result()
	if err != nil {
		return fmt.Errorf("redis: read pending set: %w", err)
	}

	ds, err := s.deliveriesByIDs(ctx, ids)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	for _, d := range ds {
		if d.Status != delivery.StatusPending || d.NextAttemptAt == nil {
			pipe.SRem(ctx, pendingKey, d.ID.String())
			continue
		}
		pipe.ZAdd(ctx, queueKey, redis.Z{
			Score:  float64(d.NextAttemptAt.UnixMilli()),
			Member: d.ID.String(),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: rebuild queue: %w", err)
	}
	return nil
}

func (s *Store) deliveriesByIDs(ctx context.Context, ids []string) ([]*delivery.Delivery, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, raw := range ids {
		dID, err := id.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("redis: corrupt delivery id %q: %w", raw, err)
		}
		keys[i] = s.deliveryKey(dID)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget deliveries: %w", err)
	}

	var out []*delivery.Delivery
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var d delivery.Delivery
		if err := json.Unmarshal([]byte(str), &d); err != nil {
			return nil, fmt.Errorf("redis: unmarshal delivery: %w", err)
		}
		out = append(out, &d)
	}
	return out, nil
}

// PushDLQ persists a dead letter entry.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: marshal dlq entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dlqKey(e.ID), raw, 0)
	pipe.ZAdd(ctx, dlqIndexKey, redis.Z{
		Score:  float64(e.CreatedAt.UnixMilli()),
		Member: e.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push dlq: %w", err)
	}
	return nil
}

// GetDLQEntry returns an entry by ID.
func (s *Store) GetDLQEntry(ctx context.Context, entryID id.ID) (*dlq.Entry, error) {
	raw, err := s.client.Get(ctx, s.dlqKey(entryID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("dlq entry %s: %w", entryID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get dlq entry: %w", err)
	}
	var e dlq.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("redis: unmarshal dlq entry: %w", err)
	}
	return &e, nil
}

// ListDLQ returns entries, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, dlqIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list dlq: %w", err)
	}

	var out []*dlq.Entry
	for _, raw := range ids {
		entryID, err := id.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("redis: corrupt dlq id %q: %w", raw, err)
		}
		e, err := s.GetDLQEntry(ctx, entryID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !opts.EndpointID.IsNil() && e.EndpointID != opts.EndpointID {
			continue
		}
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, dlqIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count dlq: %w", err)
	}
	return int(n), nil
}

// MarkReplayed records the replay on an entry.
func (s *Store) MarkReplayed(ctx context.Context, entryID, deliveryID id.ID, at time.Time) error {
	e, err := s.GetDLQEntry(ctx, entryID)
	if err != nil {
		return err
	}
	e.ReplayedAt = &at
	e.ReplayDeliveryID = deliveryID
	e.UpdatedAt = at

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: marshal dlq entry: %w", err)
	}
	if err := s.client.Set(ctx, s.dlqKey(entryID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: mark replayed: %w", err)
	}
	return nil
}

// PurgeDLQ deletes entries created before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int, error) {
	cutoff := fmt.Sprintf("(%d", before.UnixMilli())
	ids, err := s.client.ZRangeByScore(ctx, dlqIndexKey, &redis.ZRangeBy{
		Min: "-inf", Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: purge scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, raw := range ids {
		entryID, err := id.Parse(raw)
		if err != nil {
			continue
		}
		pipe.Del(ctx, s.dlqKey(entryID))
		pipe.ZRem(ctx, dlqIndexKey, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: purge dlq: %w", err)
	}
	return len(ids), nil
}

// CreateEventType persists an event type definition.
func (s *Store) CreateEventType(ctx context.Context, et *catalog.EventType) error {
	raw, err := json.Marshal(et)
	if err != nil {
		return fmt.Errorf("redis: marshal event type: %w", err)
	}
	ok, err := s.client.HSetNX(ctx, eventTypesKey, et.Name, raw).Result()
	if err != nil {
		return fmt.Errorf("redis: create event type: %w", err)
	}
	if !ok {
		return fmt.Errorf("redis: event type %q already exists", et.Name)
	}
	return nil
}

// GetEventTypeByName returns a definition by name.
func (s *Store) GetEventTypeByName(ctx context.Context, name string) (*catalog.EventType, error) {
	raw, err := s.client.HGet(ctx, eventTypesKey, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("event type %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get event type: %w", err)
	}
	var et catalog.EventType
	if err := json.Unmarshal(raw, &et); err != nil {
		return nil, fmt.Errorf("redis: unmarshal event type: %w", err)
	}
	return &et, nil
}

// ListEventTypes returns all definitions.
func (s *Store) ListEventTypes(ctx context.Context) ([]*catalog.EventType, error) {
	all, err := s.client.HGetAll(ctx, eventTypesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list event types: %w", err)
	}
	var out []*catalog.EventType
	for _, raw := range all {
		var et catalog.EventType
		if err := json.Unmarshal([]byte(raw), &et); err != nil {
			return nil, fmt.Errorf("redis: unmarshal event type: %w", err)
		}
		out = append(out, &et)
	}
	return out, nil
}

// UpdateEventType modifies a definition.
func (s *Store) UpdateEventType(ctx context.Context, et *catalog.EventType) error {
	exists, err := s.client.HExists(ctx, eventTypesKey, et.Name).Result()
	if err != nil {
		return fmt.Errorf("redis: check event type: %w", err)
	}
	if !exists {
		return fmt.Errorf("event type %q: %w", et.Name, store.ErrNotFound)
	}
	raw, err := json.Marshal(et)
	if err != nil {
		return fmt.Errorf("redis: marshal event type: %w", err)
	}
	if err := s.client.HSet(ctx, eventTypesKey, et.Name, raw).Err(); err != nil {
		return fmt.Errorf("redis: update event type: %w", err)
	}
	return nil
}

// SaveSnapshot stores the latest health snapshot for an endpoint.
func (s *Store) SaveSnapshot(ctx context.Context, snap *health.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.healthKey(snap.EndpointID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the latest health snapshot for an endpoint.
func (s *Store) GetSnapshot(ctx context.Context, epID id.ID) (*health.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.healthKey(epID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("snapshot for %s: %w", epID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get snapshot: %w", err)
	}
	var snap health.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("redis: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

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

func sortNewestFirst[T any](items []T, at func(T) time.Time) {
	sort.Slice(items, func(i, j int) bool {
		return at(items[i]).After(at(items[j]))
	})
}
