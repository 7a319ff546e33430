package discovery

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/resilience"
)

type product struct {
	Message string `json:"message"`
}

func serverInstance(t *testing.T, srv *httptest.Server, id string) registry.Instance {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return registry.Instance{ServiceName: "product-service", InstanceID: id, Host: host, Port: port, Status: registry.StatusUp}
}

func TestClientGetResolvesAndCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hello" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(product{Message: "hello from product"})
	}))
	defer srv.Close()

	r := NewResolver(fixedSource([]registry.Instance{serverInstance(t, srv, "p1")}), nil)
	c, err := NewClient(r, httpclient.Config{Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := Get[product](c, context.Background(), "product-service", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data.Message != "hello from product" {
		t.Errorf("expected message, got %q", resp.Data.Message)
	}

	raw, err := c.Do(context.Background(), "product-service", httpclient.Request{Method: http.MethodGet, Path: "/missing"})
	if !httpclient.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if raw == nil || raw.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 response, got %+v", raw)
	}
}

func TestClientNoInstance(t *testing.T) {
	c, err := NewClient(NewResolver(fixedSource(nil), nil), httpclient.Config{}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = Get[product](c, context.Background(), "product-service", "/hello")
	if !stderrors.Is(err, ErrNoAvailableInstance) {
		t.Errorf("expected ErrNoAvailableInstance, got %v", err)
	}
}

func TestClientBreakerSkipsFailingInstance(t *testing.T) {
	var brokenCalls atomic.Int32
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		brokenCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer healthy.Close()

	r := NewResolver(fixedSource([]registry.Instance{
		serverInstance(t, broken, "p1"),
		serverInstance(t, healthy, "p2"),
	}), nil)
	c, err := NewClient(r, httpclient.Config{
		Timeout:        2 * time.Second,
		CircuitBreaker: &resilience.CircuitBreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute},
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	// Round robin alternates p1, p2, p1, p2.
	var errs []error
	for range 4 {
		_, err := c.Do(context.Background(), "product-service", httpclient.Request{Method: http.MethodGet, Path: "/hello"})
		errs = append(errs, err)
	}
	if !httpclient.IsServerError(errs[0]) {
		t.Errorf("expected the first call to reach p1 and fail, got %v", errs[0])
	}
	if errs[1] != nil || errs[3] != nil {
		t.Errorf("expected p2 calls to succeed, got %v and %v", errs[1], errs[3])
	}
	if !httpclient.IsCircuitOpen(errs[2]) {
		t.Errorf("expected p1 to be refused locally, got %v", errs[2])
	}
	if brokenCalls.Load() != 1 {
		t.Errorf("expected p1 to be called once, got %d", brokenCalls.Load())
	}
}
