// Package dispatch performs single signed HTTP delivery attempts.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/signature"
)

// Webhook headers set on every delivery attempt.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

const maxResponseBody = 1024 // 1KB cap on stored response bodies

// reservedHeaders cannot be overridden by endpoint custom headers.
var reservedHeaders = map[string]struct{}{
	"Content-Type":  {},
	HeaderSignature: {},
	HeaderDelivery:  {},
	HeaderTimestamp: {},
}

// Result holds the outcome of a single delivery attempt.
type Result struct {
	// Success is true for any 2xx response.
	Success bool

	// StatusCode is the HTTP status, 0 when the request never completed.
	StatusCode int

	// ResponseBody is the response body, capped at 1KB.
	ResponseBody string

	// ResponseHeaders holds the first value of each response header.
	ResponseHeaders map[string]string

	// LatencyMs is the round-trip time in milliseconds.
	LatencyMs int

	// TimedOut is true when the attempt exceeded the endpoint timeout.
	// A timeout is a transient failure distinct from a non-2xx response.
	TimedOut bool

	// Error is the transport error message, empty when a response arrived.
	Error string
}

// Dispatcher builds and sends signed webhook POSTs.
type Dispatcher struct {
	client         *http.Client
	defaultTimeout time.Duration
	newNonce       func() string
	now            func() time.Time
}

// NewDispatcher creates a dispatcher. defaultTimeout applies to endpoints
// that do not set their own.
func NewDispatcher(defaultTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		// Per-attempt deadlines come from the request context, not a
		// client-wide timeout, because each endpoint sets its own.
		client:         &http.Client{},
		defaultTimeout: defaultTimeout,
		newNonce:       uuid.NewString,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Deliver POSTs the frozen envelope body to the endpoint with signature
// headers, bounded by the endpoint timeout.
func (d *Dispatcher) Deliver(ctx context.Context, ep *endpoint.Endpoint, body []byte) Result {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Hookline/1.0")
	req.Header.Set(HeaderSignature, signature.Sign(body, ep.Secret))
	req.Header.Set(HeaderDelivery, d.newNonce())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(d.now().Unix(), 10))

	// Custom endpoint headers. Protocol headers win on collision so a
	// misconfigured tenant header cannot spoof the signature.
	for k, v := range ep.Headers {
		if _, reserved := reservedHeaders[http.CanonicalHeaderKey(k)]; reserved {
			continue
		}
		req.Header.Set(k, v)
	}

	start := d.now()
	resp, err := d.client.Do(req) //nolint:gosec // URL is a tenant-configured webhook destination.
	latency := int(d.now().Sub(start).Milliseconds())

	if err != nil {
		return Result{
			TimedOut:  isTimeout(err),
			LatencyMs: latency,
			Error:     err.Error(),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode:      resp.StatusCode,
			ResponseHeaders: flattenHeaders(resp.Header),
			LatencyMs:       latency,
			Error:           fmt.Sprintf("read response: %v", readErr),
		}
	}

	return Result{
		Success:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode:      resp.StatusCode,
		ResponseBody:    string(respBody),
		ResponseHeaders: flattenHeaders(resp.Header),
		LatencyMs:       latency,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}
	return flat
}
