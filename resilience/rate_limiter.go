package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures a token bucket.
type RateLimiterConfig struct {
	Name string
	// Rate in requests per second. Default: 10.
	Rate float64
	// Burst defaults to Rate, at least 1.
	Burst int
	// OnLimit receives the limiter name, or the key for a KeyedRateLimiter.
	OnLimit func(name string)
}

func (c *RateLimiterConfig) normalize() {
	if c.Rate <= 0 {
		c.Rate = 10
	}
	if c.Burst <= 0 {
		c.Burst = max(int(c.Rate), 1)
	}
}

func (c RateLimiterConfig) bucket() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(c.Rate), c.Burst)
}

// RateLimiter is a token bucket backed by golang.org/x/time/rate.
type RateLimiter struct {
	config  RateLimiterConfig
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	config.normalize()
	return &RateLimiter{config: config, limiter: config.bucket()}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	if rl.limiter.Allow() {
		return true
	}
	if rl.config.OnLimit != nil {
		rl.config.OnLimit(rl.config.Name)
	}
	return false
}

// Wait blocks until a request is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// KeyedRateLimiter keeps one token bucket per key (typically a client IP).
// Buckets idle longer than the configured TTL are dropped by Cleanup.
type KeyedRateLimiter struct {
	config RateLimiterConfig
	ttl    time.Duration

	mu      sync.Mutex
	buckets map[string]*keyedBucket
}

type keyedBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedRateLimiter creates a per-key limiter. ttl <= 0 defaults to 5 minutes.
func NewKeyedRateLimiter(config RateLimiterConfig, ttl time.Duration) *KeyedRateLimiter {
	config.normalize()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KeyedRateLimiter{
		config:  config,
		ttl:     ttl,
		buckets: make(map[string]*keyedBucket),
	}
}

// Allow reports whether a request for key may proceed now.
func (k *KeyedRateLimiter) Allow(key string) bool {
	now := time.Now()

	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		b = &keyedBucket{limiter: k.config.bucket()}
		k.buckets[key] = b
	}
	b.lastSeen = now
	k.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return true
	}
	if k.config.OnLimit != nil {
		k.config.OnLimit(key)
	}
	return false
}

// Cleanup drops buckets not seen since now-ttl and returns how many were removed.
func (k *KeyedRateLimiter) Cleanup(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for key, b := range k.buckets {
		if now.Sub(b.lastSeen) > k.ttl {
			delete(k.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
