package api

import (
	"net/http"

	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/id"
)

func (h *Handler) registerEndpoint(w http.ResponseWriter, r *http.Request) {
	var in endpoint.Input
	if !h.decode(w, r, &in) {
		return
	}

	ep, err := h.hl.Endpoints().Register(r.Context(), in)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	// The secret is returned exactly once, at registration.
	h.respond(w, http.StatusCreated, struct {
		*endpoint.Endpoint
		Secret string `json:"secret"`
	}{ep, ep.Secret})
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "tenant_id is required"})
		return
	}

	opts := endpoint.ListOpts{
		Offset: queryInt(r, "offset"),
		Limit:  queryInt(r, "limit"),
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active := v == "true"
		opts.Active = &active
	}

	eps, err := h.hl.Endpoints().List(r.Context(), tenantID, opts)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"endpoints": eps})
}

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, ok := h.pathEndpointID(w, r)
	if !ok {
		return
	}
	ep, err := h.hl.Endpoints().Get(r.Context(), epID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, ep)
}

func (h *Handler) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, ok := h.pathEndpointID(w, r)
	if !ok {
		return
	}
	var in endpoint.Input
	if !h.decode(w, r, &in) {
		return
	}
	ep, err := h.hl.Endpoints().Update(r.Context(), epID, in)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, ep)
}

func (h *Handler) deactivateEndpoint(w http.ResponseWriter, r *http.Request) {
	h.setEndpointActive(w, r, false)
}

func (h *Handler) activateEndpoint(w http.ResponseWriter, r *http.Request) {
	h.setEndpointActive(w, r, true)
}

func (h *Handler) setEndpointActive(w http.ResponseWriter, r *http.Request, active bool) {
	epID, ok := h.pathEndpointID(w, r)
	if !ok {
		return
	}
	var err error
	if active {
		err = h.hl.Endpoints().Activate(r.Context(), epID)
	} else {
		err = h.hl.Endpoints().Deactivate(r.Context(), epID)
	}
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]bool{"active": active})
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	epID, ok := h.pathEndpointID(w, r)
	if !ok {
		return
	}
	secret, err := h.hl.Endpoints().RotateSecret(r.Context(), epID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *Handler) testEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, ok := h.pathEndpointID(w, r)
	if !ok {
		return
	}
	d, err := h.hl.TriggerTest(r.Context(), epID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusAccepted, d)
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	epID, ok := h.pathEndpointID(w, r)
	if !ok {
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset"),
		Limit:  queryInt(r, "limit"),
		Status: delivery.Status(r.URL.Query().Get("status")),
	}
	ds, err := h.hl.Store().ListByEndpoint(r.Context(), epID, opts)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"deliveries": ds})
}

func (h *Handler) endpointHealth(w http.ResponseWriter, r *http.Request) {
	epID, ok := h.pathEndpointID(w, r)
	if !ok {
		return
	}
	snap, err := h.hl.Health().Snapshot(r.Context(), epID)
	if err != nil {
		// No snapshot yet: compute one on demand.
		snap, err = h.hl.Health().Check(r.Context(), epID)
		if err != nil {
			h.respondErr(w, r, err)
			return
		}
	}
	h.respond(w, http.StatusOK, snap)
}

func (h *Handler) pathEndpointID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid endpoint id"})
		return id.Nil, false
	}
	return epID, true
}
