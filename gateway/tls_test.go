package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/security"
	"github.com/kbukum/meshkit/security/tlstest"
)

func TestRouterForwardsOverTLS(t *testing.T) {
	certs := tlstest.Generate(t)
	upstream := certs.NewServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			t.Errorf("expected a TLS connection")
		}
		_, _ = w.Write([]byte("secure " + r.URL.Path))
	}))

	table, err := NewRouteTable([]RouteRule{{PathPrefix: "/user/**", TargetServiceName: "user-service"}})
	if err != nil {
		t.Fatalf("route table: %v", err)
	}
	inst := instanceAt(t, "u1", upstream.Listener.Addr().String())
	src := discovery.SourceFunc(func(context.Context, string) ([]registry.Instance, error) {
		return []registry.Instance{inst}, nil
	})

	cfg := Config{Scheme: "https", TLS: &security.TLSConfig{CAFile: certs.CAFile}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	tlsCfg, err := cfg.TLS.Build()
	if err != nil {
		t.Fatalf("build tls: %v", err)
	}

	tests := []struct {
		name     string
		opts     []Option
		wantCode int
	}{
		{"trusted ca", []Option{WithTLSConfig(tlsCfg)}, http.StatusOK},
		{"system roots", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(table, discovery.NewResolver(src, nil), cfg, logger.NewDefault("gateway-test"), tt.opts...)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/7", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.wantCode == http.StatusOK && rec.Body.String() != "secure /user/7" {
				t.Errorf("expected relayed body, got %q", rec.Body.String())
			}
		})
	}
}
