package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hooklinehq/hookline"
	"github.com/hooklinehq/hookline/catalog"
	"github.com/hooklinehq/hookline/dlq"
	"github.com/hooklinehq/hookline/id"
)

func (h *Handler) triggerEvent(w http.ResponseWriter, r *http.Request) {
	var in hookline.TriggerInput
	if !h.decode(w, r, &in) {
		return
	}

	res, err := h.hl.Trigger(r.Context(), in)
	if err != nil {
		var schemaErr *catalog.SchemaError
		if errors.As(err, &schemaErr) || errors.Is(err, catalog.ErrDeprecatedEventType) {
			h.respond(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusAccepted, res)
}

func (h *Handler) listEventDeliveries(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid event id"})
		return
	}
	ds, err := h.hl.Store().ListByEvent(r.Context(), eventID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"deliveries": ds})
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	dID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid delivery id"})
		return
	}
	d, err := h.hl.Store().GetDelivery(r.Context(), dID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, d)
}

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{
		Offset:   queryInt(r, "offset"),
		Limit:    queryInt(r, "limit"),
		TenantID: r.URL.Query().Get("tenant_id"),
	}
	if raw := r.URL.Query().Get("endpoint_id"); raw != "" {
		epID, err := id.ParseEndpointID(raw)
		if err != nil {
			h.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid endpoint id"})
			return
		}
		opts.EndpointID = epID
	}

	entries, err := h.hl.DLQ().List(r.Context(), opts)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(r.PathValue("id"))
	if err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid dlq entry id"})
		return
	}

	d, err := h.hl.DLQ().Replay(r.Context(), entryID)
	if err != nil {
		switch {
		case errors.Is(err, dlq.ErrAlreadyReplayed):
			h.respond(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, dlq.ErrEndpointInactive):
			h.respond(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			h.respondErr(w, r, err)
		}
		return
	}
	h.respond(w, http.StatusAccepted, d)
}

func (h *Handler) replayDLQBulk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EntryIDs []string `json:"entry_ids"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	ids := make([]id.ID, 0, len(body.EntryIDs))
	for _, raw := range body.EntryIDs {
		entryID, err := id.ParseDLQID(raw)
		if err != nil {
			h.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid dlq entry id: " + raw})
			return
		}
		ids = append(ids, entryID)
	}

	n, err := h.hl.DLQ().ReplayBulk(r.Context(), ids)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusAccepted, map[string]int{"replayed": n})
}

func (h *Handler) declareEventType(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Schema      json.RawMessage `json:"schema"`
		Deprecated  bool            `json:"deprecated"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	et, err := h.hl.Catalog().Declare(r.Context(), body.Name, body.Description, body.Schema, body.Deprecated)
	if err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.respond(w, http.StatusCreated, et)
}

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.hl.Catalog().List(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"event_types": types})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	pending, err := h.hl.Store().CountPending(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	dlqSize, err := h.hl.DLQ().Count(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{
		"pending_deliveries": pending,
		"dlq_size":           dlqSize,
		"timestamp":          time.Now().UTC(),
	})
}
