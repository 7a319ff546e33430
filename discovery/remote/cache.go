package remote

import (
	"sync"
	"time"

	"github.com/kbukum/meshkit/registry"
)

type instanceCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	instances []registry.Instance
	expiry    time.Time
}

func newInstanceCache(ttl time.Duration) *instanceCache {
	return &instanceCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// get returns a copy of the entry and whether it is still fresh.
func (c *instanceCache) get(service string) ([]registry.Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[service]
	if !ok || !c.now().Before(entry.expiry) {
		return nil, false
	}
	return copyInstances(entry.instances), true
}

// stale returns the entry regardless of expiry.
func (c *instanceCache) stale(service string) ([]registry.Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[service]
	if !ok {
		return nil, false
	}
	return copyInstances(entry.instances), true
}

func (c *instanceCache) set(service string, instances []registry.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[service] = cacheEntry{
		instances: instances,
		expiry:    c.now().Add(c.ttl),
	}
}

func (c *instanceCache) invalidate(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, service)
}

func copyInstances(in []registry.Instance) []registry.Instance {
	out := make([]registry.Instance, len(in))
	copy(out, in)
	return out
}
