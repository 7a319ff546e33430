package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
)

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := Config{Host: "127.0.0.1"}
	if mutate != nil {
		mutate(&cfg)
	}
	cfg.ApplyDefaults()
	srv := New(cfg, logger.NewDefault("server-test"))
	gin.SetMode(gin.TestMode)
	return srv
}

func TestDefaultEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.RegisterDefaultEndpoints("registry", func(context.Context) []component.Health {
		return []component.Health{{Name: "registry", Status: component.StatusHealthy}}
	})

	for _, path := range []string{"/health", "/alive", "/ready", "/info", "/metrics"} {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-Id") == "" {
			t.Errorf("%s: expected X-Request-Id header", path)
		}
	}
}

func TestHealthUnhealthyComponent(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.RegisterDefaultEndpoints("gateway", func(context.Context) []component.Health {
		return []component.Health{{Name: "discovery", Status: component.StatusUnhealthy}}
	})

	for _, path := range []string{"/health", "/ready"} {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, rr.Code)
		}
	}
}

func TestRateLimitEnabled(t *testing.T) {
	srv := newTestServer(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{Enabled: true, Rate: 0.001, Burst: 1}
	})
	srv.GinEngine().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected [200 429], got %v", codes)
	}
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody errors.ErrorCode
	}{
		{"app error", errors.InstanceNotFound("user-service", "i1"), http.StatusNotFound, errors.ErrCodeInstanceNotFound},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, errors.ErrCodeInternal},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, errors.ErrCodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			rr := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rr)
			RespondWithError(c, tt.err)

			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}
			var body errors.ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body.Error.Code != tt.wantBody {
				t.Errorf("expected code %s, got %s", tt.wantBody, body.Error.Code)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	srv := newTestServer(t, func(c *Config) { c.Port = 0 })
	srv.httpServer.Addr = "127.0.0.1:0"
	srv.RegisterDefaultEndpoints("svc", nil)
	comp := NewComponent(srv)

	if h := comp.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy before start, got %s", h.Status)
	}
	if err := comp.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h := comp.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy after start, got %s", h.Status)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + srv.Addr() + "/alive")
	if err != nil {
		t.Fatalf("GET /alive: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if err := comp.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRoutesSystemLast(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.RegisterDefaultEndpoints("svc", nil)
	srv.GinEngine().POST("/register", func(c *gin.Context) {})

	routes := NewComponent(srv).Routes()
	if len(routes) == 0 || routes[0].Path != "/register" {
		t.Fatalf("expected /register first, got %+v", routes)
	}
}

func TestFormatHandlerName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"github.com/kbukum/meshkit/registry/httpapi.(*Handler).Register-fm", "Handler.Register"},
		{"github.com/kbukum/meshkit/server/endpoint.Health.func1", "health"},
	}
	for _, tt := range tests {
		if got := formatHandlerName(tt.in); got != tt.want {
			t.Errorf("formatHandlerName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Port: 70000}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out of range port")
	}
	cfg = Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}
