package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/meshkit/resilience"
	"github.com/kbukum/meshkit/security"
	"github.com/kbukum/meshkit/security/tlstest"
)

type instance struct {
	ServiceName string `json:"service_name"`
	InstanceID  string `json:"instance_id"`
}

func newRegistryStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /instances/{service}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("service") != "user-service" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("[]"))
			return
		}
		_ = json.NewEncoder(w).Encode([]instance{{ServiceName: "user-service", InstanceID: "u1"}})
	})
	mux.HandleFunc("POST /register", func(w http.ResponseWriter, r *http.Request) {
		var in instance
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(in)
	})
	mux.HandleFunc("PUT /heartbeat/{service}/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"INSTANCE_NOT_FOUND"}}`))
	})
	mux.HandleFunc("GET /echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Token", r.Header.Get("X-Token"))
		w.Header().Set("X-Agent", r.Header.Get("X-Agent"))
		_, _ = w.Write([]byte(r.URL.RawQuery))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTypedHelpers(t *testing.T) {
	srv := newRegistryStub(t)
	c, err := New(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	list, err := Get[[]instance](c, ctx, "/instances/user-service")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].InstanceID != "u1" {
		t.Errorf("expected [u1], got %+v", list.Data)
	}

	reg, err := Post[instance](c, ctx, "register", instance{ServiceName: "user-service", InstanceID: "u2"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if reg.Data.InstanceID != "u2" {
		t.Errorf("expected echoed u2, got %+v", reg.Data)
	}

	hb, err := Put[map[string]any](c, ctx, "/heartbeat/user-service/u9", nil)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if hb == nil || hb.StatusCode != http.StatusNotFound {
		t.Errorf("expected the 404 response alongside the error, got %+v", hb)
	}
	if StatusCode(err) != http.StatusNotFound {
		t.Errorf("expected status 404 from error, got %d", StatusCode(err))
	}
}

func TestHeadersAndQuery(t *testing.T) {
	srv := newRegistryStub(t)
	c, err := New(Config{BaseURL: srv.URL, Headers: map[string]string{"X-Agent": "meshkit", "X-Token": "default"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := c.Do(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/echo",
		Headers: map[string]string{"X-Token": "override"},
		Query:   map[string]string{"zone": "eu-1"},
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Headers["X-Token"] != "override" || resp.Headers["X-Agent"] != "meshkit" {
		t.Errorf("expected merged headers, got %v", resp.Headers)
	}
	if string(resp.Body) != "zone=eu-1" {
		t.Errorf("expected query zone=eu-1, got %q", resp.Body)
	}
}

func TestAbsolutePathIgnoresBaseURL(t *testing.T) {
	srv := newRegistryStub(t)
	c, err := New(Config{BaseURL: "http://registry.invalid"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := Get[[]instance](c, context.Background(), srv.URL+"/instances/user-service"); err != nil {
		t.Errorf("expected absolute URL to reach the stub, got %v", err)
	}
}

func TestTransportFailures(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	dead := "http://" + l.Addr().String()
	_ = l.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c, err := New(Config{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: dead})
	if !IsConnection(err) || !IsRetryable(err) {
		t.Errorf("expected retryable connection error, got %v", err)
	}

	_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: slow.URL})
	if !IsTimeout(err) {
		t.Errorf("expected timeout, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Do(ctx, Request{Method: http.MethodGet, Path: slow.URL})
	if !IsCanceled(err) || IsRetryable(err) {
		t.Errorf("expected non-retryable cancellation, got %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "[]")
	}))
	defer srv.Close()

	retry := DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.InitialBackoff = time.Millisecond
	c, err := New(Config{BaseURL: srv.URL, Retry: retry})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/instances/x"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestRateLimiterWaits(t *testing.T) {
	srv := newRegistryStub(t)
	c, err := New(Config{BaseURL: srv.URL, RateLimiter: &resilience.RateLimiterConfig{Rate: 1, Burst: 1}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/echo"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/echo"}); err == nil {
		t.Errorf("expected the second call to exceed the deadline while waiting for a token")
	}
}

func TestTLSFromConfig(t *testing.T) {
	certs := tlstest.Generate(t)
	srv := certs.NewServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))

	c, err := New(Config{BaseURL: srv.URL, TLS: &security.TLSConfig{CAFile: certs.CAFile}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := Get[[]instance](c, context.Background(), "/instances/user-service"); err != nil {
		t.Errorf("expected TLS call to succeed, got %v", err)
	}

	if _, err := New(Config{TLS: &security.TLSConfig{CertFile: "cert.pem"}}); err == nil {
		t.Errorf("expected error for cert without key")
	}
}

func TestCircuitBreakerPerHost(t *testing.T) {
	var failing, healthy atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failing.Add(1)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		healthy.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer up.Close()

	c, err := New(Config{CircuitBreaker: &resilience.CircuitBreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	get := func(url string) error {
		_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: url})
		return err
	}

	// 404s do not count against the host.
	for range 3 {
		if err := get(down.URL + "/missing"); !IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	for range 2 {
		if err := get(down.URL + "/hello"); !IsServerError(err) {
			t.Fatalf("expected server error, got %v", err)
		}
	}
	if err := get(down.URL + "/hello"); !IsCircuitOpen(err) || IsRetryable(err) {
		t.Errorf("expected non-retryable open circuit, got %v", err)
	}
	if failing.Load() != 5 {
		t.Errorf("expected the open circuit to skip the call, host saw %d", failing.Load())
	}

	if err := get(up.URL + "/hello"); err != nil {
		t.Errorf("expected other host unaffected, got %v", err)
	}
	if healthy.Load() != 1 {
		t.Errorf("expected 1 call to the healthy host, got %d", healthy.Load())
	}
}
