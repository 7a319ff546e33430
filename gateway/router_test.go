package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
)

func instanceAt(t *testing.T, id, addr string) registry.Instance {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %s: %v", addr, err)
	}
	port, _ := strconv.Atoi(portStr)
	return registry.Instance{ServiceName: "user-service", InstanceID: id, Host: host, Port: port, Status: registry.StatusUp}
}

// deadAddr returns an address nothing listens on.
func deadAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func newTestRouter(t *testing.T, cfg Config, instances ...registry.Instance) *Router {
	t.Helper()
	table, err := NewRouteTable([]RouteRule{
		{PathPrefix: "/user/**", TargetServiceName: "user-service"},
		{PathPrefix: "/api/users/**", TargetServiceName: "user-service", StripPrefixSegments: 2},
		{PathPrefix: "/ghost/**", TargetServiceName: "ghost-service"},
	})
	if err != nil {
		t.Fatalf("route table: %v", err)
	}
	src := discovery.SourceFunc(func(_ context.Context, service string) ([]registry.Instance, error) {
		if service != "user-service" {
			return nil, nil
		}
		return append([]registry.Instance(nil), instances...), nil
	})
	return NewRouter(table, discovery.NewResolver(src, nil), cfg, logger.NewDefault("gateway-test"))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errors.ErrorBody {
	t.Helper()
	var resp errors.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestRouterNoRoute(t *testing.T) {
	rt := newTestRouter(t, Config{})
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != errors.ErrCodeRouteNotFound {
		t.Errorf("expected ROUTE_NOT_FOUND, got %s", body.Code)
	}
}

func TestRouterNoInstance(t *testing.T) {
	rt := newTestRouter(t, Config{})
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ghost/1", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != errors.ErrCodeNoAvailableInstance {
		t.Errorf("expected NO_AVAILABLE_INSTANCE, got %s", body.Code)
	}
}

func TestRouterSourceFailure(t *testing.T) {
	table, _ := NewRouteTable([]RouteRule{{PathPrefix: "/user", TargetServiceName: "user-service"}})
	src := discovery.SourceFunc(func(context.Context, string) ([]registry.Instance, error) {
		return nil, stderrors.New("registry unreachable")
	})
	rt := NewRouter(table, discovery.NewResolver(src, nil), Config{}, nil)

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != errors.ErrCodeServiceUnavailable {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %s", body.Code)
	}
}

func TestRouterForwards(t *testing.T) {
	var (
		mu      sync.Mutex
		got     *http.Request
		gotBody string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = r.Clone(context.Background())
		gotBody = string(b)
		mu.Unlock()
		w.Header().Set("X-Backend", "user-1")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"42"}`)
	}))
	defer backend.Close()

	rt := newTestRouter(t, Config{}, instanceAt(t, "u1", backend.Listener.Addr().String()))

	req := httptest.NewRequest(http.MethodPost, "/api/users/user/create?dry=1", strings.NewReader(`{"name":"ada"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "X-Private")
	req.Header.Set("X-Private", "secret")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("X-Forwarded-For", "10.1.1.1")
	req.RemoteAddr = "192.0.2.7:5555"
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"id":"42"}` {
		t.Errorf("expected body relayed, got %q", rec.Body.String())
	}
	if rec.Header().Get("X-Backend") != "user-1" {
		t.Error("expected response header relayed")
	}
	if rec.Header().Get("Connection") != "" {
		t.Error("expected hop-by-hop response header stripped")
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("backend not called")
	}
	if got.URL.Path != "/user/create" {
		t.Errorf("expected stripped path /user/create, got %s", got.URL.Path)
	}
	if got.URL.RawQuery != "dry=1" {
		t.Errorf("expected query preserved, got %q", got.URL.RawQuery)
	}
	if got.Method != http.MethodPost || gotBody != `{"name":"ada"}` {
		t.Errorf("expected POST with body, got %s %q", got.Method, gotBody)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Error("expected end-to-end header forwarded")
	}
	if got.Header.Get("X-Private") != "" || got.Header.Get("Keep-Alive") != "" {
		t.Error("expected hop-by-hop request headers stripped")
	}
	if xff := got.Header.Get("X-Forwarded-For"); xff != "10.1.1.1, 192.0.2.7" {
		t.Errorf("expected appended X-Forwarded-For, got %q", xff)
	}
	if got.Header.Get("X-Forwarded-Proto") != "http" || got.Header.Get("X-Forwarded-Host") != "example.com" {
		t.Errorf("expected forwarded proto/host, got %q %q",
			got.Header.Get("X-Forwarded-Proto"), got.Header.Get("X-Forwarded-Host"))
	}
}

func TestRouterEncodedSlashStaysInSegment(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.EscapedPath())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()
	rt := newTestRouter(t, Config{}, instanceAt(t, "u1", backend.Listener.Addr().String()))

	tests := []struct {
		path     string
		wantCode int
		wantPath string
	}{
		{"/api/users/a%2Fb", http.StatusOK, "/a%2Fb"},
		{"/user/a%2Fb", http.StatusOK, "/user/a%2Fb"},
		{"/api%2Fusers/a", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			mu.Lock()
			seen = nil
			mu.Unlock()

			rec := httptest.NewRecorder()
			rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case tt.wantPath == "" && len(seen) != 0:
				t.Errorf("expected no forward, backend saw %v", seen)
			case tt.wantPath != "" && (len(seen) != 1 || seen[0] != tt.wantPath):
				t.Errorf("expected backend path %q, got %v", tt.wantPath, seen)
			}
		})
	}
}

func TestRouterRelaysDownstreamErrorsWithoutRetry(t *testing.T) {
	var hits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()
	addr := backend.Listener.Addr().String()

	rt := newTestRouter(t, Config{}, instanceAt(t, "u1", addr), instanceAt(t, "u2", addr))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/1", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected downstream 500 relayed, got %d", rec.Code)
	}
	if hits.Load() != 1 {
		t.Errorf("expected a single call, got %d", hits.Load())
	}
}

func TestRouterRetriesOnAlternateInstance(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		_, _ = io.WriteString(w, "ok")
	}))
	defer backend.Close()

	// A fresh resolver starts at the first instance, so the dead one is tried first.
	rt := newTestRouter(t, Config{},
		instanceAt(t, "a", deadAddr(t)),
		instanceAt(t, "b", backend.Listener.Addr().String()),
	)
	before := testutil.ToFloat64(retriesTotal.WithLabelValues("user-service"))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/user/1", strings.NewReader("payload")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from alternate instance, got %d: %s", rec.Code, rec.Body.String())
	}
	mu.Lock()
	if len(bodies) != 1 || bodies[0] != "payload" {
		t.Errorf("expected body resent on retry, got %v", bodies)
	}
	mu.Unlock()
	if after := testutil.ToFloat64(retriesTotal.WithLabelValues("user-service")); after != before+1 {
		t.Errorf("expected one retry recorded, got %v", after-before)
	}
}

func TestRouterAllInstancesDown(t *testing.T) {
	rt := newTestRouter(t, Config{},
		instanceAt(t, "a", deadAddr(t)),
		instanceAt(t, "b", deadAddr(t)),
		instanceAt(t, "c", deadAddr(t)),
	)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/1", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != errors.ErrCodeDownstreamUnavailable {
		t.Errorf("expected DOWNSTREAM_UNAVAILABLE, got %s", body.Code)
	}
}

func TestRouterTimeout(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int64
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)
	addr := slow.Listener.Addr().String()

	rt := newTestRouter(t, Config{Timeout: 50 * time.Millisecond},
		instanceAt(t, "a", addr),
		instanceAt(t, "b", addr),
	)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/1", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != errors.ErrCodeTimeout {
		t.Errorf("expected TIMEOUT, got %s", body.Code)
	}
	if hits.Load() != 2 {
		t.Errorf("expected timeout retried once, got %d calls", hits.Load())
	}
}

func TestRouterClientDisconnectCancelsDownstream(t *testing.T) {
	started := make(chan struct{}, 2)
	canceled := make(chan struct{}, 2)
	var hits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		started <- struct{}{}
		<-r.Context().Done()
		canceled <- struct{}{}
	}))
	defer backend.Close()
	addr := backend.Listener.Addr().String()

	rt := newTestRouter(t, Config{Timeout: 10 * time.Second},
		instanceAt(t, "a", addr),
		instanceAt(t, "b", addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/user/1", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.ServeHTTP(httptest.NewRecorder(), req)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("backend never called")
	}
	cancel()

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("expected downstream call canceled")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("router did not return after disconnect")
	}
	if hits.Load() != 1 {
		t.Errorf("expected no retry after disconnect, got %d calls", hits.Load())
	}
}

func TestRouterBulkheadRejects(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user/slow" {
			close(started)
			<-release
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer backend.Close()

	rt := newTestRouter(t, Config{Bulkhead: BulkheadConfig{MaxConcurrent: 1}},
		instanceAt(t, "a", backend.Listener.Addr().String()),
	)

	first := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/slow", nil))
		first <- rec.Code
	}()
	<-started

	before := testutil.ToFloat64(rejectionsTotal.WithLabelValues("user-service", "full"))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/fast", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while the cap is taken, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Details["reason"] != "full" {
		t.Errorf("expected reason full, got %v", body.Details["reason"])
	}
	if after := testutil.ToFloat64(rejectionsTotal.WithLabelValues("user-service", "full")); after != before+1 {
		t.Errorf("expected one rejection recorded, got %v", after-before)
	}

	close(release)
	if code := <-first; code != http.StatusOK {
		t.Errorf("expected first request to succeed, got %d", code)
	}

	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/fast", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected slot released, got %d", rec.Code)
	}
}

func TestComponentDescribesRoutes(t *testing.T) {
	c := NewComponent(newTestRouter(t, Config{}))
	routes := c.Routes()
	if len(routes) != 3 {
		t.Fatalf("expected 3 routes, got %d", len(routes))
	}
	if routes[0].Path != "/api/users/**" || !strings.Contains(routes[0].Handler, "strip 2") {
		t.Errorf("expected longest prefix first with strip note, got %+v", routes[0])
	}
	if h := c.Health(context.Background()); h.Status != "healthy" {
		t.Errorf("expected healthy, got %s", h.Status)
	}
}
