// Package observability provides Prometheus metrics and OpenTelemetry
// tracing helpers for the delivery pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the delivery pipeline.
// All methods are nil-safe so instrumentation can be disabled by passing
// a nil *Metrics through the wiring.
type Metrics struct {
	eventsTotal          prometheus.Counter
	deliveriesTotal      *prometheus.CounterVec
	deliveryLatency      prometheus.Histogram
	pendingDeliveries    prometheus.Gauge
	dlqSize              prometheus.Gauge
	rateLimitRejections  prometheus.Counter
	endpointsUnhealthy   prometheus.Gauge
	deliveryAttemptsPerc prometheus.Histogram
}

// NewMetrics creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hookline",
			Name:      "events_total",
			Help:      "Total events triggered.",
		}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookline",
			Name:      "deliveries_total",
			Help:      "Delivery outcomes by terminal status.",
		}, []string{"status"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hookline",
			Name:      "delivery_latency_seconds",
			Help:      "Round-trip latency of delivery attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		pendingDeliveries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hookline",
			Name:      "pending_deliveries",
			Help:      "Deliveries waiting in the queue.",
		}),
		dlqSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hookline",
			Name:      "dlq_size",
			Help:      "Entries currently in the dead letter queue.",
		}),
		rateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hookline",
			Name:      "rate_limit_rejections_total",
			Help:      "Delivery attempts deferred by per-endpoint rate limits.",
		}),
		endpointsUnhealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hookline",
			Name:      "endpoints_unhealthy",
			Help:      "Active endpoints currently failing their health check.",
		}),
		deliveryAttemptsPerc: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hookline",
			Name:      "delivery_attempts",
			Help:      "Attempts consumed before a delivery reached a terminal state.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.eventsTotal,
			m.deliveriesTotal,
			m.deliveryLatency,
			m.pendingDeliveries,
			m.dlqSize,
			m.rateLimitRejections,
			m.endpointsUnhealthy,
			m.deliveryAttemptsPerc,
		)
	}
	return m
}

// EventTriggered records one triggered event.
func (m *Metrics) EventTriggered() {
	if m == nil {
		return
	}
	m.eventsTotal.Inc()
}

// DeliveryFinished records a delivery reaching a terminal status.
func (m *Metrics) DeliveryFinished(status string, attempts int) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(status).Inc()
	m.deliveryAttemptsPerc.Observe(float64(attempts))
}

// AttemptLatency records the round-trip time of one delivery attempt.
func (m *Metrics) AttemptLatency(ms int) {
	if m == nil {
		return
	}
	m.deliveryLatency.Observe(float64(ms) / 1000)
}

// SetPending updates the pending queue depth gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingDeliveries.Set(float64(n))
}

// SetDLQSize updates the dead letter queue depth gauge.
func (m *Metrics) SetDLQSize(n int) {
	if m == nil {
		return
	}
	m.dlqSize.Set(float64(n))
}

// RateLimited records one delivery deferred by a rate limit.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimitRejections.Inc()
}

// SetUnhealthyEndpoints updates the unhealthy endpoint gauge.
func (m *Metrics) SetUnhealthyEndpoints(n int) {
	if m == nil {
		return
	}
	m.endpointsUnhealthy.Set(float64(n))
}
