package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrBulkheadFull is returned when no slot is free and queuing is off.
	ErrBulkheadFull = errors.New("bulkhead full")
	// ErrBulkheadTimeout is returned when MaxWait passed without a free slot.
	ErrBulkheadTimeout = errors.New("bulkhead wait timed out")
)

// BulkheadConfig bounds concurrent work for one key.
type BulkheadConfig struct {
	Name string
	// MaxConcurrent slots. Default: 10.
	MaxConcurrent int
	// MaxWait is the queue bound: how long a caller may wait for a slot.
	// Zero rejects at once.
	MaxWait time.Duration
	// OnReject observes every refused call.
	OnReject func(name string, err error)
}

// Bulkhead is a counting semaphore with a bounded wait.
type Bulkhead struct {
	cfg   BulkheadConfig
	slots chan struct{}
}

// NewBulkhead creates a Bulkhead.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Bulkhead{cfg: cfg, slots: make(chan struct{}, cfg.MaxConcurrent)}
}

// Execute runs fn in a slot. Without a slot it returns ErrBulkheadFull,
// ErrBulkheadTimeout or ctx.Err() and fn is not called.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.enter(ctx); err != nil {
		if b.cfg.OnReject != nil {
			b.cfg.OnReject(b.cfg.Name, err)
		}
		return err
	}
	defer func() { <-b.slots }()
	return fn()
}

func (b *Bulkhead) enter(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	default:
	}
	if b.cfg.MaxWait <= 0 {
		return ErrBulkheadFull
	}

	timer := time.NewTimer(b.cfg.MaxWait)
	defer timer.Stop()
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBulkheadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InUse is the number of occupied slots.
func (b *Bulkhead) InUse() int { return len(b.slots) }

// Capacity is MaxConcurrent after defaults.
func (b *Bulkhead) Capacity() int { return cap(b.slots) }

// BulkheadGroup lazily creates one Bulkhead per key from a template, so one
// slow downstream service cannot take the slots of the others.
type BulkheadGroup struct {
	template BulkheadConfig

	mu    sync.Mutex
	heads map[string]*Bulkhead
}

// NewBulkheadGroup creates a group. Each bulkhead is named after its key.
func NewBulkheadGroup(template BulkheadConfig) *BulkheadGroup {
	return &BulkheadGroup{template: template, heads: make(map[string]*Bulkhead)}
}

// Get returns the bulkhead for key.
func (g *BulkheadGroup) Get(key string) *Bulkhead {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.heads[key]; ok {
		return b
	}
	cfg := g.template
	cfg.Name = key
	b := NewBulkhead(cfg)
	g.heads[key] = b
	return b
}
