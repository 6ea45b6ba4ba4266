package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hooklinehq/hookline/endpoint"
	"github.com/hooklinehq/hookline/signature"
)

func testEndpoint(url string) *endpoint.Endpoint {
	return &endpoint.Endpoint{
		URL:     url,
		Secret:  "whsec_test",
		Headers: map[string]string{"X-Custom": "yes"},
		Timeout: 2 * time.Second,
	}
}

func TestDeliverSignsAndPosts(t *testing.T) {
	body := []byte(`{"event_id":"evt_1","event_type":"invoice.paid"}`)

	var gotSig, gotDelivery, gotTS, gotCustom, gotCT string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotDelivery = r.Header.Get(HeaderDelivery)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotCustom = r.Header.Get("X-Custom")
		gotCT = r.Header.Get("Content-Type")
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewDispatcher(5 * time.Second)
	res := d.Deliver(context.Background(), testEndpoint(srv.URL), body)

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if res.ResponseBody != "ok" {
		t.Errorf("response body = %q, want %q", res.ResponseBody, "ok")
	}
	if string(gotBody) != string(body) {
		t.Errorf("posted body = %q, want %q", gotBody, body)
	}
	if gotCT != "application/json" {
		t.Errorf("content type = %q", gotCT)
	}
	if gotCustom != "yes" {
		t.Errorf("custom header not forwarded, got %q", gotCustom)
	}
	if gotDelivery == "" || gotTS == "" {
		t.Error("delivery nonce or timestamp header missing")
	}
	if !signature.Verify(body, "whsec_test", gotSig) {
		t.Errorf("signature %q does not verify against body", gotSig)
	}
}

func TestDeliverCustomHeadersCannotShadowProtocolHeaders(t *testing.T) {
	body := []byte(`{"event_type":"invoice.paid"}`)

	var gotSig, gotCT, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotCT = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep := testEndpoint(srv.URL)
	ep.Headers = map[string]string{
		"x-webhook-signature": "spoofed",
		"content-type":        "text/plain",
		"Authorization":       "Bearer token",
	}

	d := NewDispatcher(5 * time.Second)
	if res := d.Deliver(context.Background(), ep, body); !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	if !signature.Verify(body, "whsec_test", gotSig) {
		t.Errorf("signature %q overwritten by custom header", gotSig)
	}
	if gotCT != "application/json" {
		t.Errorf("content type overwritten: %q", gotCT)
	}
	if gotAuth != "Bearer token" {
		t.Errorf("non-reserved custom header dropped, got %q", gotAuth)
	}
}

func TestDeliverNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(5 * time.Second)
	res := d.Deliver(context.Background(), testEndpoint(srv.URL), []byte(`{}`))

	if res.Success {
		t.Fatal("expected failure on 500")
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", res.StatusCode)
	}
	if res.TimedOut {
		t.Error("500 must not be marked as timeout")
	}
	if !strings.Contains(res.ResponseBody, "upstream broke") {
		t.Errorf("response body not captured: %q", res.ResponseBody)
	}
}

func TestDeliverTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	ep := testEndpoint(srv.URL)
	ep.Timeout = 50 * time.Millisecond

	d := NewDispatcher(5 * time.Second)
	res := d.Deliver(context.Background(), ep, []byte(`{}`))

	if res.Success {
		t.Fatal("expected failure on timeout")
	}
	if !res.TimedOut {
		t.Errorf("expected TimedOut, got %+v", res)
	}
	if res.StatusCode != 0 {
		t.Errorf("status = %d, want 0 for timed-out attempt", res.StatusCode)
	}
}

func TestDeliverConnectionRefused(t *testing.T) {
	d := NewDispatcher(time.Second)
	res := d.Deliver(context.Background(), testEndpoint("http://127.0.0.1:1"), []byte(`{}`))

	if res.Success {
		t.Fatal("expected failure on connection refused")
	}
	if res.Error == "" {
		t.Error("expected transport error message")
	}
}

func TestDeliverCapsResponseBody(t *testing.T) {
	big := strings.Repeat("x", 8192)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer srv.Close()

	d := NewDispatcher(5 * time.Second)
	res := d.Deliver(context.Background(), testEndpoint(srv.URL), []byte(`{}`))

	if len(res.ResponseBody) != maxResponseBody {
		t.Errorf("response body length = %d, want %d", len(res.ResponseBody), maxResponseBody)
	}
}
