package resilience

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Name: "test", Rate: 1, Burst: 3})
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Errorf("expected request %d to be allowed", i)
		}
	}
	if rl.Allow() {
		t.Error("expected request beyond burst to be rejected")
	}
}

func TestRateLimiter_OnLimitCallback(t *testing.T) {
	limited := 0
	rl := NewRateLimiter(RateLimiterConfig{
		Name: "test", Rate: 1, Burst: 1,
		OnLimit: func(name string) { limited++ },
	})
	rl.Allow()
	rl.Allow()
	if limited != 1 {
		t.Errorf("expected 1 OnLimit call, got %d", limited)
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.1, Burst: 1})
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("expected Wait to fail when the context expires first")
	}
}

func TestRateLimiter_DefaultBurstFollowsRate(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.5})
	if !rl.Allow() {
		t.Error("expected one token with a fractional rate")
	}
	if rl.Allow() {
		t.Error("expected burst of 1")
	}
}

func TestKeyedRateLimiter_IsolatesKeys(t *testing.T) {
	k := NewKeyedRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1}, time.Minute)

	if !k.Allow("10.0.0.1") {
		t.Error("expected first request from 10.0.0.1 to be allowed")
	}
	if k.Allow("10.0.0.1") {
		t.Error("expected second request from 10.0.0.1 to be limited")
	}
	if !k.Allow("10.0.0.2") {
		t.Error("expected 10.0.0.2 to have its own bucket")
	}
	if k.Len() != 2 {
		t.Errorf("expected 2 tracked keys, got %d", k.Len())
	}
}

func TestKeyedRateLimiter_Cleanup(t *testing.T) {
	k := NewKeyedRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1}, time.Minute)
	k.Allow("a")
	k.Allow("b")

	if removed := k.Cleanup(time.Now()); removed != 0 {
		t.Errorf("expected nothing removed, got %d", removed)
	}
	if removed := k.Cleanup(time.Now().Add(2 * time.Minute)); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if k.Len() != 0 {
		t.Errorf("expected no keys left, got %d", k.Len())
	}
}
