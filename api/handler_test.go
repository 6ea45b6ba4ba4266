package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hooklinehq/hookline"
	"github.com/hooklinehq/hookline/dlq"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/id"
)

func mustParseEndpointID(t *testing.T, raw string) id.ID {
	t.Helper()
	epID, err := id.ParseEndpointID(raw)
	if err != nil {
		t.Fatalf("parse endpoint id %q: %v", raw, err)
	}
	return epID
}

func newTestHandler(t *testing.T) (*Handler, *hookline.Hookline) {
	t.Helper()
	hl, err := hookline.New()
	if err != nil {
		t.Fatalf("new hookline: %v", err)
	}
	return New(hl, slog.New(slog.DiscardHandler)), hl
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
}

func mustRegister(t *testing.T, h *Handler, tenantID string) (id string, secret string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/endpoints", map[string]any{
		"tenant_id":   tenantID,
		"url":         "https://hooks.example.com/in",
		"event_types": []string{"invoice.paid"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	decodeBody(t, rec, &body)
	return body.ID, body.Secret
}

func TestRegisterEndpointReturnsSecretOnce(t *testing.T) {
	h, _ := newTestHandler(t)

	epID, secret := mustRegister(t, h, "acme")
	if epID == "" || secret == "" {
		t.Fatalf("missing id or secret: id=%q secret=%q", epID, secret)
	}

	// The secret never appears on reads.
	rec := doJSON(t, h, http.MethodGet, "/v1/endpoints/"+epID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte(secret)) {
		t.Error("secret leaked in GET response")
	}
	var got struct {
		TenantID string `json:"tenant_id"`
		URL      string `json:"url"`
		Active   bool   `json:"active"`
	}
	decodeBody(t, rec, &got)
	if got.TenantID != "acme" || !got.Active {
		t.Errorf("unexpected endpoint body: %+v", got)
	}
}

func TestRegisterEndpointValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/endpoints", map[string]any{
		"tenant_id":   "acme",
		"url":         "ftp://not-http.example.com",
		"event_types": []string{"invoice.paid"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	decodeBody(t, rec, &body)
	if body.Field != "url" {
		t.Errorf("field = %q, want url", body.Field)
	}
}

func TestListEndpointsRequiresTenant(t *testing.T) {
	h, _ := newTestHandler(t)

	if rec := doJSON(t, h, http.MethodGet, "/v1/endpoints", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("without tenant_id: status = %d, want 400", rec.Code)
	}

	mustRegister(t, h, "acme")
	rec := doJSON(t, h, http.MethodGet, "/v1/endpoints?tenant_id=acme", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Endpoints []json.RawMessage `json:"endpoints"`
	}
	decodeBody(t, rec, &body)
	if len(body.Endpoints) != 1 {
		t.Errorf("endpoints = %d, want 1", len(body.Endpoints))
	}
}

func TestGetEndpointNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/endpoints/not-an-id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id: status = %d, want 400", rec.Code)
	}
}

func TestDeactivateAndActivateEndpoint(t *testing.T) {
	h, hl := newTestHandler(t)
	epID, _ := mustRegister(t, h, "acme")

	rec := doJSON(t, h, http.MethodPost, "/v1/endpoints/"+epID+"/deactivate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: status %d", rec.Code)
	}

	eps, err := hl.Endpoints().List(context.Background(), "acme", endpoint.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 1 || eps[0].Active {
		t.Fatalf("endpoint still active after deactivate: %+v", eps)
	}

	if rec := doJSON(t, h, http.MethodPost, "/v1/endpoints/"+epID+"/activate", nil); rec.Code != http.StatusOK {
		t.Fatalf("activate: status %d", rec.Code)
	}
}

func TestRotateSecret(t *testing.T) {
	h, _ := newTestHandler(t)
	epID, old := mustRegister(t, h, "acme")

	rec := doJSON(t, h, http.MethodPost, "/v1/endpoints/"+epID+"/rotate-secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Secret string `json:"secret"`
	}
	decodeBody(t, rec, &body)
	if body.Secret == "" || body.Secret == old {
		t.Errorf("rotated secret %q must be new and non-empty", body.Secret)
	}
}

func TestTriggerEvent(t *testing.T) {
	h, _ := newTestHandler(t)
	mustRegister(t, h, "acme")

	rec := doJSON(t, h, http.MethodPost, "/v1/events", map[string]any{
		"tenant_id":  "acme",
		"event_type": "invoice.paid",
		"payload":    map[string]any{"amount": 42},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		EventID     string   `json:"event_id"`
		DeliveryIDs []string `json:"delivery_ids"`
	}
	decodeBody(t, rec, &body)
	if body.EventID == "" || len(body.DeliveryIDs) != 1 {
		t.Errorf("unexpected trigger result: %+v", body)
	}

	// The queued delivery is readable immediately.
	got := doJSON(t, h, http.MethodGet, "/v1/deliveries/"+body.DeliveryIDs[0], nil)
	if got.Code != http.StatusOK {
		t.Errorf("get delivery: status %d", got.Code)
	}

	evDeliveries := doJSON(t, h, http.MethodGet, "/v1/events/"+body.EventID+"/deliveries", nil)
	if evDeliveries.Code != http.StatusOK {
		t.Errorf("event deliveries: status %d", evDeliveries.Code)
	}
}

func TestTriggerEventValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/events", map[string]any{
		"event_type": "invoice.paid",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing tenant: status = %d, want 400", rec.Code)
	}
}

func TestTriggerEventSchemaViolation(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/event-types", map[string]any{
		"name":   "invoice.paid",
		"schema": map[string]any{"type": "object", "required": []string{"amount"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("declare: status %d, body %s", rec.Code, rec.Body.String())
	}

	bad := doJSON(t, h, http.MethodPost, "/v1/events", map[string]any{
		"tenant_id":  "acme",
		"event_type": "invoice.paid",
		"payload":    map[string]any{"wrong": true},
	})
	if bad.Code != http.StatusUnprocessableEntity {
		t.Errorf("schema violation: status = %d, want 422", bad.Code)
	}
}

func TestDeclareEventTypeRejectsBadName(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/event-types", map[string]any{
		"name": "Not A Valid Name",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	if list := doJSON(t, h, http.MethodGet, "/v1/event-types", nil); list.Code != http.StatusOK {
		t.Errorf("list: status %d", list.Code)
	}
}

func TestDLQReplayConflicts(t *testing.T) {
	h, hl := newTestHandler(t)
	epID, _ := mustRegister(t, h, "acme")

	// Seed a dead letter by hand: queue a test delivery and push it.
	d, err := hl.TriggerTest(context.Background(), mustParseEndpointID(t, epID))
	if err != nil {
		t.Fatal(err)
	}
	if err := hl.DLQ().PushFailed(context.Background(), d, "max attempts exhausted"); err != nil {
		t.Fatal(err)
	}

	entries, err := hl.DLQ().List(context.Background(), dlq.ListOpts{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("dlq entries = %d (%v), want 1", len(entries), err)
	}
	entryID := entries[0].ID.String()

	list := doJSON(t, h, http.MethodGet, "/v1/dlq?tenant_id=acme", nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list dlq: status %d", list.Code)
	}

	first := doJSON(t, h, http.MethodPost, "/v1/dlq/"+entryID+"/replay", nil)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first replay: status %d, body %s", first.Code, first.Body.String())
	}
	second := doJSON(t, h, http.MethodPost, "/v1/dlq/"+entryID+"/replay", nil)
	if second.Code != http.StatusConflict {
		t.Errorf("second replay: status = %d, want 409", second.Code)
	}

	bulk := doJSON(t, h, http.MethodPost, "/v1/dlq/replay", map[string]any{
		"entry_ids": []string{entryID},
	})
	if bulk.Code != http.StatusAccepted {
		t.Fatalf("bulk replay: status %d", bulk.Code)
	}
	var bulkBody struct {
		Replayed int `json:"replayed"`
	}
	decodeBody(t, bulk, &bulkBody)
	if bulkBody.Replayed != 0 {
		t.Errorf("bulk replayed = %d, want 0 (already replayed)", bulkBody.Replayed)
	}
}

func TestStats(t *testing.T) {
	h, hl := newTestHandler(t)
	epID, _ := mustRegister(t, h, "acme")
	if _, err := hl.TriggerTest(context.Background(), mustParseEndpointID(t, epID)); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		PendingDeliveries int       `json:"pending_deliveries"`
		DLQSize           int       `json:"dlq_size"`
		Timestamp         time.Time `json:"timestamp"`
	}
	decodeBody(t, rec, &body)
	if body.PendingDeliveries != 1 {
		t.Errorf("pending = %d, want 1", body.PendingDeliveries)
	}
	if body.Timestamp.IsZero() {
		t.Error("timestamp missing")
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/v1/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
