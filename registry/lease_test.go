package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kbukum/meshkit/component"
)

func newTestLease(t *testing.T, cfg LeaseConfig) (*Store, *LeaseManager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := newTestStore(clock)
	return store, NewLeaseManager(store, cfg, nil), clock
}

func register(t *testing.T, s *Store, service, id string, leaseSeconds int) {
	t.Helper()
	_, err := s.Register(Instance{ServiceName: service, InstanceID: id, Host: "127.0.0.1", Port: 9001, LeaseDurationSeconds: leaseSeconds})
	if err != nil {
		t.Fatalf("register %s/%s: %v", service, id, err)
	}
}

func TestRenewPromotesStartingToUp(t *testing.T) {
	store, lease, clock := newTestLease(t, LeaseConfig{})
	register(t, store, "svc", "i1", 10)

	clock.Advance(time.Second)
	inst, err := lease.Renew("svc", "i1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != StatusUp {
		t.Errorf("expected UP, got %s", inst.Status)
	}
	if !inst.LastRenewal.Equal(clock.Now()) {
		t.Errorf("expected last renewal %v, got %v", clock.Now(), inst.LastRenewal)
	}
	if len(store.Snapshot("svc")) != 1 {
		t.Error("expected instance in snapshot after first heartbeat")
	}
}

func TestRenewKeepsOperatorStatus(t *testing.T) {
	for _, st := range []Status{StatusOutOfService, StatusDown} {
		t.Run(string(st), func(t *testing.T) {
			store, lease, _ := newTestLease(t, LeaseConfig{})
			register(t, store, "svc", "i1", 10)
			if err := store.SetStatus("svc", "i1", st); err != nil {
				t.Fatal(err)
			}
			inst, err := lease.Renew("svc", "i1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if inst.Status != st {
				t.Errorf("expected %s to be kept, got %s", st, inst.Status)
			}
		})
	}
}

func TestRenewUnknownInstance(t *testing.T) {
	_, lease, _ := newTestLease(t, LeaseConfig{})
	_, err := lease.Renew("svc", "ghost")
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestSweepEvictsExpiredLease(t *testing.T) {
	store, lease, clock := newTestLease(t, LeaseConfig{EvictionFactor: 3, EvictionGrace: 10 * time.Second})
	register(t, store, "svc", "i1", 10)
	register(t, store, "svc", "i2", 10)
	_, _ = lease.Renew("svc", "i1")
	_, _ = lease.Renew("svc", "i2")

	clock.Advance(20 * time.Second)
	_, _ = lease.Renew("svc", "i2")

	// i1 last renewed 30s ago: exactly lease×factor, still alive.
	clock.Advance(10 * time.Second)
	if res := lease.Sweep(clock.Now()); res.Expired != 0 {
		t.Fatalf("expected no eviction at the threshold, got %+v", res)
	}

	now := clock.Advance(time.Second)
	res := lease.Sweep(now)
	if res.Expired != 1 {
		t.Fatalf("expected 1 eviction, got %+v", res)
	}

	snap := store.Snapshot("svc")
	if len(snap) != 1 || snap[0].InstanceID != "i2" {
		t.Errorf("expected only i2 in snapshot, got %v", snap)
	}
	evicted, ok := store.Get("svc", "i1")
	if !ok {
		t.Fatal("expected evicted instance to stay visible during grace")
	}
	if evicted.Status != StatusDown || !evicted.Evicted() {
		t.Errorf("expected evicted DOWN instance, got %+v", evicted)
	}

	if _, err := lease.Renew("svc", "i1"); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected renew of evicted instance to fail with ErrInstanceNotFound, got %v", err)
	}
	if err := store.SetStatus("svc", "i1", StatusUp); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected status update of evicted instance to fail, got %v", err)
	}
}

func TestSweepRemovesAfterGrace(t *testing.T) {
	store, lease, clock := newTestLease(t, LeaseConfig{EvictionFactor: 1, EvictionGrace: 10 * time.Second})
	register(t, store, "svc", "i1", 5)

	lease.Sweep(clock.Advance(6 * time.Second))
	if _, ok := store.Get("svc", "i1"); !ok {
		t.Fatal("expected instance to be kept during grace")
	}

	res := lease.Sweep(clock.Advance(9 * time.Second))
	if res.Removed != 0 {
		t.Fatalf("expected no removal before grace elapsed, got %+v", res)
	}

	res = lease.Sweep(clock.Advance(time.Second))
	if res.Removed != 1 {
		t.Fatalf("expected removal after grace, got %+v", res)
	}
	if _, ok := store.Get("svc", "i1"); ok {
		t.Error("expected instance to be gone")
	}
}

func TestSweepZeroGraceRemovesImmediately(t *testing.T) {
	store, lease, clock := newTestLease(t, LeaseConfig{EvictionFactor: 1})
	register(t, store, "svc", "i1", 5)

	res := lease.Sweep(clock.Advance(6 * time.Second))
	if res.Expired != 1 || res.Removed != 1 {
		t.Fatalf("expected expired and removed, got %+v", res)
	}
	if _, ok := store.Get("svc", "i1"); ok {
		t.Error("expected instance to be gone")
	}
}

func TestReregisterAfterEviction(t *testing.T) {
	store, lease, clock := newTestLease(t, LeaseConfig{EvictionFactor: 1, EvictionGrace: time.Minute})
	register(t, store, "svc", "i1", 5)
	lease.Sweep(clock.Advance(6 * time.Second))

	register(t, store, "svc", "i1", 5)
	inst, err := lease.Renew("svc", "i1")
	if err != nil {
		t.Fatalf("expected renew after re-registration to succeed, got %v", err)
	}
	if inst.Evicted() || inst.Status != StatusUp {
		t.Errorf("expected live UP instance, got %+v", inst)
	}
	if !inst.RegisteredAt.Equal(clock.Now()) {
		t.Errorf("expected fresh registeredAt after eviction, got %v", inst.RegisteredAt)
	}
}

func selfPreservingConfig() LeaseConfig {
	return LeaseConfig{
		EvictionFactor: 3,
		EvictionGrace:  10 * time.Second,
		SelfPreservation: SelfPreservationConfig{
			Enabled:      true,
			Threshold:    0.15,
			Window:       time.Minute,
			MinInstances: 3,
		},
	}
}

// heartbeatRounds renews every instance every 10s, rounds times.
func heartbeatRounds(t *testing.T, lease *LeaseManager, clock *fakeClock, ids []string, rounds int) {
	t.Helper()
	for r := 0; r < rounds; r++ {
		clock.Advance(10 * time.Second)
		for _, id := range ids {
			if _, err := lease.Renew("svc", id); err != nil {
				t.Fatalf("renew %s: %v", id, err)
			}
		}
	}
}

func TestSelfPreservationSuspendsEviction(t *testing.T) {
	store, lease, clock := newTestLease(t, selfPreservingConfig())
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		register(t, store, "svc", id, 10)
	}
	heartbeatRounds(t, lease, clock, ids, 6)

	res := lease.Sweep(clock.Now())
	if res.SelfPreservation {
		t.Fatalf("expected self-preservation off while heartbeats flow, got %+v", res)
	}

	// Every heartbeat stops at once, as in a partition.
	res = lease.Sweep(clock.Advance(40 * time.Second))
	if !res.SelfPreservation {
		t.Fatalf("expected self-preservation to engage, got %+v", res)
	}
	if res.Expired != 0 || res.Skipped != 4 {
		t.Errorf("expected 4 skipped and none expired, got %+v", res)
	}
	if !lease.SelfPreservation() {
		t.Error("expected SelfPreservation() to report engaged")
	}
	if len(store.Snapshot("svc")) != 4 {
		t.Error("expected all instances to stay in the snapshot")
	}

	heartbeatRounds(t, lease, clock, ids, 6)
	res = lease.Sweep(clock.Now())
	if res.SelfPreservation {
		t.Errorf("expected self-preservation to release after recovery, got %+v", res)
	}
}

func TestSelfPreservationWithFastHeartbeats(t *testing.T) {
	store, lease, clock := newTestLease(t, selfPreservingConfig())
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		register(t, store, "svc", id, 30)
	}
	// Heartbeats every 10s on a 30s lease.
	heartbeatRounds(t, lease, clock, ids, 12)
	res := lease.Sweep(clock.Now())
	if res.SelfPreservation {
		t.Fatalf("expected self-preservation off while heartbeats flow, got %+v", res)
	}

	// Four of six stop; the extra heartbeats of the other two must not
	// make up for them.
	heartbeatRounds(t, lease, clock, ids[:2], 10)
	res = lease.Sweep(clock.Now())
	if !res.SelfPreservation {
		t.Fatalf("expected self-preservation to engage, got %+v", res)
	}
	if res.Expired != 0 || res.Skipped != 4 {
		t.Errorf("expected 4 skipped and none expired, got %+v", res)
	}
	if res.ActualRenewals > 2*3 {
		t.Errorf("expected at most one counted renewal per lease period, got %d", res.ActualRenewals)
	}
}

func TestSelfPreservationDisabledEvicts(t *testing.T) {
	cfg := selfPreservingConfig()
	cfg.SelfPreservation.Enabled = false
	store, lease, clock := newTestLease(t, cfg)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		register(t, store, "svc", id, 10)
	}
	heartbeatRounds(t, lease, clock, ids, 6)

	res := lease.Sweep(clock.Advance(40 * time.Second))
	if res.SelfPreservation || res.Expired != 4 {
		t.Errorf("expected 4 evictions, got %+v", res)
	}
	if len(store.Snapshot("svc")) != 0 {
		t.Error("expected empty snapshot")
	}
}

func TestSelfPreservationIgnoresSmallRegistries(t *testing.T) {
	store, lease, clock := newTestLease(t, selfPreservingConfig())
	ids := []string{"a", "b"}
	for _, id := range ids {
		register(t, store, "svc", id, 10)
	}
	heartbeatRounds(t, lease, clock, ids, 6)

	res := lease.Sweep(clock.Advance(40 * time.Second))
	if res.SelfPreservation || res.Expired != 2 {
		t.Errorf("expected eviction below MinInstances, got %+v", res)
	}
}

func TestSweepAcrossServices(t *testing.T) {
	store, lease, clock := newTestLease(t, LeaseConfig{EvictionFactor: 1})
	for i := 0; i < 3; i++ {
		register(t, store, fmt.Sprintf("svc-%d", i), "i1", 5)
	}
	res := lease.Sweep(clock.Advance(6 * time.Second))
	if res.Expired != 3 {
		t.Errorf("expected 3 evictions, got %+v", res)
	}
}

func TestComponentLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lease.SweepInterval = 5 * time.Millisecond
	c := NewComponent(cfg, nil)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(ctx); err == nil {
		t.Error("expected second start to fail")
	}
	if h := c.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %s", h.Status)
	}
	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Stop(stopCtx); err != nil {
		t.Errorf("expected second stop to be a no-op, got %v", err)
	}
}
