package consul

import (
	"testing"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/registry"
)

func TestEntryToInstance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name   string
		entry  *api.ServiceEntry
		wantOK bool
		host   string
	}{
		{
			name: "passing",
			entry: &api.ServiceEntry{
				Node:    &api.Node{Address: "10.0.0.9"},
				Service: &api.AgentService{ID: "u1", Service: "user-service", Address: "10.0.0.1", Port: 8080},
				Checks:  api.HealthChecks{{Status: api.HealthPassing}},
			},
			wantOK: true,
			host:   "10.0.0.1",
		},
		{
			name: "falls back to node address",
			entry: &api.ServiceEntry{
				Node:    &api.Node{Address: "10.0.0.9"},
				Service: &api.AgentService{ID: "u2", Service: "user-service", Port: 8080},
			},
			wantOK: true,
			host:   "10.0.0.9",
		},
		{
			name: "warning check dropped",
			entry: &api.ServiceEntry{
				Service: &api.AgentService{ID: "u3", Service: "user-service", Address: "10.0.0.3", Port: 8080},
				Checks:  api.HealthChecks{{Status: api.HealthPassing}, {Status: api.HealthWarning}},
			},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, ok := entryToInstance(tt.entry, now)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if inst.Status != registry.StatusUp {
				t.Errorf("expected UP, got %s", inst.Status)
			}
			if inst.Host != tt.host {
				t.Errorf("expected host %s, got %s", tt.host, inst.Host)
			}
			if inst.ServiceName != "user-service" {
				t.Errorf("expected user-service, got %s", inst.ServiceName)
			}
		})
	}
}

func TestConsulSourceRegistered(t *testing.T) {
	src, err := discovery.NewSource(discovery.Config{Source: discovery.SourceConsul}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(*Source); !ok {
		t.Errorf("expected *consul.Source, got %T", src)
	}
}
