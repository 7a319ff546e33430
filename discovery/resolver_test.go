package discovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/registry"
)

func instances(service string, ids ...string) []registry.Instance {
	out := make([]registry.Instance, 0, len(ids))
	for i, id := range ids {
		out = append(out, registry.Instance{
			ServiceName: service,
			InstanceID:  id,
			Host:        "127.0.0.1",
			Port:        9001 + i,
			Status:      registry.StatusUp,
		})
	}
	return out
}

func fixedSource(list []registry.Instance) Source {
	return SourceFunc(func(context.Context, string) ([]registry.Instance, error) {
		out := make([]registry.Instance, len(list))
		copy(out, list)
		return out, nil
	})
}

func TestResolveRoundRobinFairness(t *testing.T) {
	tests := []struct {
		name string
		n    int
		k    int
	}{
		{"even split", 30, 3},
		{"uneven split", 31, 3},
		{"fewer calls than instances", 2, 5},
		{"single instance", 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, tt.k)
			for i := range ids {
				ids[i] = fmt.Sprintf("i%d", i)
			}
			r := NewResolver(fixedSource(instances("svc", ids...)), nil)

			visits := make(map[string]int)
			for range tt.n {
				inst, err := r.Resolve(context.Background(), "svc")
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				visits[inst.InstanceID]++
			}
			for _, id := range ids {
				if visits[id] < tt.n/tt.k {
					t.Errorf("expected %s visited at least %d times, got %d", id, tt.n/tt.k, visits[id])
				}
			}
		})
	}
}

func TestResolveCyclesInOrder(t *testing.T) {
	r := NewResolver(fixedSource(instances("svc", "a", "b", "c")), nil)
	var got []string
	for range 6 {
		inst, err := r.Resolve(context.Background(), "svc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, inst.InstanceID)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected sequence %v, got %v", want, got)
		}
	}
}

func TestResolveCountersArePerService(t *testing.T) {
	src := SourceFunc(func(_ context.Context, service string) ([]registry.Instance, error) {
		return instances(service, "a", "b"), nil
	})
	r := NewResolver(src, nil)

	first, _ := r.Resolve(context.Background(), "svc-1")
	other, _ := r.Resolve(context.Background(), "svc-2")
	second, _ := r.Resolve(context.Background(), "svc-1")

	if first.InstanceID != "a" || other.InstanceID != "a" {
		t.Errorf("expected both services to start at a, got %s and %s", first.InstanceID, other.InstanceID)
	}
	if second.InstanceID != "b" {
		t.Errorf("expected svc-1 to advance to b, got %s", second.InstanceID)
	}
}

func TestResolveNoInstances(t *testing.T) {
	r := NewResolver(fixedSource(nil), nil)

	_, err := r.Resolve(context.Background(), "ghost")
	if !stderrors.Is(err, ErrNoAvailableInstance) {
		t.Fatalf("expected ErrNoAvailableInstance, got %v", err)
	}
	var na *NoAvailableInstanceError
	if !stderrors.As(err, &na) || na.ServiceName != "ghost" {
		t.Errorf("expected error naming ghost, got %v", err)
	}

	appErr := errors.FromError(err)
	if appErr.Code != errors.ErrCodeNoAvailableInstance {
		t.Errorf("expected code %s, got %s", errors.ErrCodeNoAvailableInstance, appErr.Code)
	}
	if appErr.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", appErr.HTTPStatus)
	}
}

func TestResolveSourceError(t *testing.T) {
	boom := stderrors.New("registry down")
	r := NewResolver(SourceFunc(func(context.Context, string) ([]registry.Instance, error) {
		return nil, boom
	}), nil)

	_, err := r.Resolve(context.Background(), "svc")
	if !stderrors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
	if stderrors.Is(err, ErrNoAvailableInstance) {
		t.Error("source failure should not be reported as no available instance")
	}
}

func TestResolveAfterShrinkingSnapshot(t *testing.T) {
	var mu sync.Mutex
	list := instances("svc", "a", "b", "c")
	src := SourceFunc(func(context.Context, string) ([]registry.Instance, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]registry.Instance(nil), list...), nil
	})
	r := NewResolver(src, nil)

	for range 5 {
		if _, err := r.Resolve(context.Background(), "svc"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	mu.Lock()
	list = instances("svc", "a")
	mu.Unlock()

	inst, err := r.Resolve(context.Background(), "svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.InstanceID != "a" {
		t.Errorf("expected index recomputed against new snapshot, got %s", inst.InstanceID)
	}
}

func TestSelectionCandidates(t *testing.T) {
	r := NewResolver(fixedSource(instances("svc", "a", "b", "c")), nil)
	_, _ = r.Resolve(context.Background(), "svc") // a

	sel, err := r.Select(context.Background(), "svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Len() != 3 {
		t.Errorf("expected 3 candidates, got %d", sel.Len())
	}
	if sel.Instance().InstanceID != "b" {
		t.Errorf("expected b selected, got %s", sel.Instance().InstanceID)
	}
	if sel.Candidate(0).InstanceID != "b" {
		t.Errorf("expected candidate 0 to be the selection, got %s", sel.Candidate(0).InstanceID)
	}
	if sel.Candidate(1).InstanceID != "c" {
		t.Errorf("expected candidate 1 to be c, got %s", sel.Candidate(1).InstanceID)
	}
	if sel.Candidate(2).InstanceID != "a" {
		t.Errorf("expected candidate 2 to wrap to a, got %s", sel.Candidate(2).InstanceID)
	}
}

func TestResolveConcurrent(t *testing.T) {
	const k, perWorker, workers = 4, 250, 8
	r := NewResolver(fixedSource(instances("svc", "a", "b", "c", "d")), nil)

	var mu sync.Mutex
	visits := make(map[string]int)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			local := make(map[string]int)
			for range perWorker {
				inst, err := r.Resolve(context.Background(), "svc")
				if err != nil {
					return err
				}
				local[inst.InstanceID]++
			}
			mu.Lock()
			for id, n := range local {
				visits[id] += n
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The shared counter hands out consecutive values, so the split is exact.
	for id, n := range visits {
		if n != workers*perWorker/k {
			t.Errorf("expected %s visited %d times, got %d", id, workers*perWorker/k, n)
		}
	}
}

func TestLocalSourceReturnsOnlyUp(t *testing.T) {
	store := registry.NewStore()
	for _, id := range []string{"i1", "i2"} {
		if _, err := store.Register(registry.Instance{ServiceName: "svc", InstanceID: id, Host: "127.0.0.1", Port: 9001}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := store.SetStatus("svc", "i1", registry.StatusUp); err != nil {
		t.Fatalf("set status: %v", err)
	}

	r := NewResolver(LocalSource(store), nil)
	for range 4 {
		inst, err := r.Resolve(context.Background(), "svc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inst.InstanceID != "i1" {
			t.Errorf("expected only i1, got %s", inst.InstanceID)
		}
	}
}
