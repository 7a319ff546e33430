package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kbukum/meshkit/logger"
)

// SweepResult summarizes one eviction pass.
type SweepResult struct {
	// Expired counts instances moved to DOWN because their lease ran out.
	Expired int
	// Removed counts evicted instances dropped after the grace window.
	Removed int
	// Skipped counts expired instances left alone under self-preservation.
	Skipped int
	// SelfPreservation reports whether eviction was suspended.
	SelfPreservation bool
	// ExpectedRenewals and ActualRenewals are the inputs of the
	// self-preservation check for the current window.
	ExpectedRenewals float64
	ActualRenewals   int64
}

// LeaseManager renews leases and evicts instances whose lease expired.
type LeaseManager struct {
	store   *Store
	cfg     LeaseConfig
	window  *renewalWindow
	engaged atomic.Bool
	log     *logger.Logger
}

// NewLeaseManager creates a lease manager over store. Zero config values are
// replaced by defaults.
func NewLeaseManager(store *Store, cfg LeaseConfig, log *logger.Logger) *LeaseManager {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &LeaseManager{
		store:  store,
		cfg:    cfg,
		window: newRenewalWindow(cfg.SelfPreservation.Window),
		log:    log.WithComponent("lease"),
	}
}

// Config returns the effective configuration.
func (m *LeaseManager) Config() LeaseConfig { return m.cfg }

// SelfPreservation reports whether the last sweep suspended eviction.
func (m *LeaseManager) SelfPreservation() bool { return m.engaged.Load() }

// Renew records a heartbeat. The first renewal of a STARTING (or UNKNOWN)
// instance moves it to UP; OUT_OF_SERVICE and DOWN set by an operator are
// kept. Unknown and evicted instances fail with ErrInstanceNotFound so the
// caller re-registers.
//
// Only the first renewal in each lease period counts toward
// self-preservation, so clients heartbeating faster than their lease do not
// mask silent instances.
func (m *LeaseManager) Renew(service, instanceID string) (Instance, error) {
	now := m.store.Now()
	var renewed Instance
	var promoted, counted bool
	err := m.store.update(service, instanceID, func(inst *Instance) error {
		inst.LastRenewal = now
		if period := inst.leasePeriod(now); period != inst.countedPeriod {
			inst.countedPeriod = period
			counted = true
		}
		if inst.Status == StatusStarting || inst.Status == StatusUnknown {
			inst.Status = StatusUp
			promoted = true
		}
		renewed = inst.clone()
		return nil
	})
	if err != nil {
		return Instance{}, err
	}

	if counted {
		m.window.Add(now)
	}
	renewalsTotal.Inc()
	if promoted {
		m.log.Info("instance is up", logger.InstanceFields(service, instanceID))
	} else {
		m.log.Debug("lease renewed", logger.InstanceFields(service, instanceID))
	}
	return renewed, nil
}

// Sweep evicts instances not renewed within lease×factor and removes
// instances evicted longer than the grace window. Locks are taken per
// instance, never across the whole table.
func (m *LeaseManager) Sweep(now time.Time) SweepResult {
	res := m.checkSelfPreservation(now)
	m.setEngaged(res)

	factor := time.Duration(m.cfg.EvictionFactor)
	grace := m.cfg.EvictionGrace

	m.store.forEachPartition(func(service string, p *partition) {
		for _, id := range p.instanceIDs() {
			switch m.sweepOne(p, id, now, factor, grace, res.SelfPreservation) {
			case sweepExpired:
				res.Expired++
				evictionsTotal.Inc()
				m.log.Warn("lease expired, instance evicted", logger.InstanceFields(service, id))
				if grace <= 0 {
					res.Removed++
				}
			case sweepRemoved:
				res.Removed++
				m.log.Info("evicted instance removed", logger.InstanceFields(service, id))
			case sweepSkipped:
				res.Skipped++
			}
		}
	})

	recordCounts(m.store.Count())
	if res.Expired > 0 || res.Removed > 0 || res.Skipped > 0 {
		m.log.Info("sweep completed", map[string]interface{}{
			"expired": res.Expired,
			"removed": res.Removed,
			"skipped": res.Skipped,
		})
	}
	return res
}

type sweepAction int

const (
	sweepNone sweepAction = iota
	sweepExpired
	sweepRemoved
	sweepSkipped
)

// sweepOne makes the eviction decision for one instance under its partition
// lock.
func (m *LeaseManager) sweepOne(p *partition, id string, now time.Time, factor, grace time.Duration, preserve bool) sweepAction {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst, ok := p.instances[id]
	if !ok {
		return sweepNone
	}
	if inst.Evicted() {
		if now.Sub(inst.EvictedAt) >= grace {
			delete(p.instances, id)
			return sweepRemoved
		}
		return sweepNone
	}
	if now.Sub(inst.LastRenewal) <= inst.LeaseDuration()*factor {
		return sweepNone
	}
	if preserve {
		return sweepSkipped
	}
	if grace <= 0 {
		delete(p.instances, id)
		return sweepExpired
	}
	inst.Status = StatusDown
	inst.EvictedAt = now
	p.instances[id] = inst
	return sweepExpired
}

// checkSelfPreservation compares renewals seen in the window with the
// renewals the live instances should have sent.
func (m *LeaseManager) checkSelfPreservation(now time.Time) SweepResult {
	var res SweepResult
	sp := m.cfg.SelfPreservation
	if !sp.Enabled {
		return res
	}

	var live int
	m.store.forEachPartition(func(_ string, p *partition) {
		p.mu.RLock()
		for _, inst := range p.instances {
			if inst.Evicted() {
				continue
			}
			live++
			res.ExpectedRenewals += expectedRenewals(now, inst.RegisteredAt, inst.LeaseDuration(), m.window.Window())
		}
		p.mu.RUnlock()
	})
	res.ActualRenewals = m.window.Count(now)

	if live < sp.MinInstances || res.ExpectedRenewals <= 0 {
		return res
	}
	missed := 1 - float64(res.ActualRenewals)/res.ExpectedRenewals
	res.SelfPreservation = missed > sp.Threshold
	return res
}

func (m *LeaseManager) setEngaged(res SweepResult) {
	was := m.engaged.Swap(res.SelfPreservation)
	recordSelfPreservation(res.SelfPreservation)
	if was == res.SelfPreservation {
		return
	}
	fields := map[string]interface{}{
		"expected_renewals": fmt.Sprintf("%.1f", res.ExpectedRenewals),
		"actual_renewals":   res.ActualRenewals,
	}
	if res.SelfPreservation {
		m.log.Warn("self-preservation engaged, eviction suspended", fields)
		return
	}
	m.log.Info("self-preservation released, eviction resumed", fields)
}

// Run sweeps every SweepInterval until ctx is done.
func (m *LeaseManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeSweep()
		}
	}
}

// safeSweep keeps the loop alive if one sweep panics.
func (m *LeaseManager) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("sweep failed", map[string]interface{}{
				logger.FieldError: fmt.Sprint(r),
			})
		}
	}()
	m.Sweep(m.store.Now())
}
