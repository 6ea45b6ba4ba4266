// Package api exposes the administrative and producer HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hooklinehq/hookline"
	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/store"
)

// Handler serves the Hookline HTTP API.
type Handler struct {
	hl     *hookline.Hookline
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds the API handler around a Hookline instance.
func New(hl *hookline.Hookline, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{hl: hl, logger: logger, mux: http.NewServeMux()}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("POST /v1/endpoints", h.registerEndpoint)
	h.mux.HandleFunc("GET /v1/endpoints", h.listEndpoints)
	h.mux.HandleFunc("GET /v1/endpoints/{id}", h.getEndpoint)
	h.mux.HandleFunc("PATCH /v1/endpoints/{id}", h.updateEndpoint)
	h.mux.HandleFunc("POST /v1/endpoints/{id}/deactivate", h.deactivateEndpoint)
	h.mux.HandleFunc("POST /v1/endpoints/{id}/activate", h.activateEndpoint)
	h.mux.HandleFunc("POST /v1/endpoints/{id}/rotate-secret", h.rotateSecret)
	h.mux.HandleFunc("POST /v1/endpoints/{id}/test", h.testEndpoint)
	h.mux.HandleFunc("GET /v1/endpoints/{id}/deliveries", h.listDeliveries)
	h.mux.HandleFunc("GET /v1/endpoints/{id}/health", h.endpointHealth)

	h.mux.HandleFunc("POST /v1/events", h.triggerEvent)
	h.mux.HandleFunc("GET /v1/events/{id}/deliveries", h.listEventDeliveries)
	h.mux.HandleFunc("GET /v1/deliveries/{id}", h.getDelivery)

	h.mux.HandleFunc("GET /v1/dlq", h.listDLQ)
	h.mux.HandleFunc("POST /v1/dlq/{id}/replay", h.replayDLQ)
	h.mux.HandleFunc("POST /v1/dlq/replay", h.replayDLQBulk)

	h.mux.HandleFunc("POST /v1/event-types", h.declareEventType)
	h.mux.HandleFunc("GET /v1/event-types", h.listEventTypes)

	h.mux.HandleFunc("GET /v1/stats", h.stats)
}

// ServeHTTP implements http.Handler with logging and panic recovery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	defer func() {
		if p := recover(); p != nil {
			h.logger.ErrorContext(r.Context(), "panic in handler",
				"method", r.Method, "path", r.URL.Path, "panic", p)
			http.Error(rec, `{"error":"internal server error"}`, http.StatusInternalServerError)
		}
		h.logger.InfoContext(r.Context(), "request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	}()

	h.mux.ServeHTTP(rec, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *endpoint.ValidationError
	switch {
	case errors.As(err, &valErr):
		h.respond(w, http.StatusBadRequest, map[string]string{
			"error": valErr.Message, "field": valErr.Field,
		})
	case errors.Is(err, store.ErrNotFound):
		h.respond(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, hookline.ErrMissingTenantID),
		errors.Is(err, hookline.ErrMissingEventType):
		h.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, hookline.ErrEndpointInactive):
		h.respond(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		h.respond(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
