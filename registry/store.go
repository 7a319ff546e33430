package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/meshkit/logger"
)

// DefaultLeaseDuration applies when a registration carries no lease.
const DefaultLeaseDuration = 30 * time.Second

// partition holds the instances of one service name behind its own lock.
type partition struct {
	mu        sync.RWMutex
	instances map[string]Instance
}

// Store is the in-memory instance table. Each service name has its own
// partition lock, so writers on one service never block readers of another.
// Records are stored by value and replaced whole, so readers never observe a
// partially updated instance.
type Store struct {
	partitions   sync.Map // service name -> *partition
	now          func() time.Time
	defaultLease time.Duration
	log          *logger.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithDefaultLease sets the lease used when a registration has none.
func WithDefaultLease(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.defaultLease = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *logger.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		now:          time.Now,
		defaultLease: DefaultLeaseDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.WithComponent("registry")
	}
	return s
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

func (s *Store) partition(service string) *partition {
	if p, ok := s.partitions.Load(service); ok {
		return p.(*partition)
	}
	p, _ := s.partitions.LoadOrStore(service, &partition{instances: make(map[string]Instance)})
	return p.(*partition)
}

func (s *Store) lookup(service string) (*partition, bool) {
	p, ok := s.partitions.Load(service)
	if !ok {
		return nil, false
	}
	return p.(*partition), true
}

// Register inserts or replaces the instance under (ServiceName, InstanceID).
// The stored record starts in STARTING with a fresh renewal timestamp. An
// empty InstanceID gets a generated UUID and a zero lease gets the default.
// Re-registration keeps the original RegisteredAt.
func (s *Store) Register(inst Instance) (Instance, error) {
	inst.ServiceName = strings.TrimSpace(inst.ServiceName)
	inst.Host = strings.TrimSpace(inst.Host)
	if inst.ServiceName == "" {
		return Instance{}, fmt.Errorf("%w: service name is required", ErrInvalidInstance)
	}
	if inst.Host == "" {
		return Instance{}, fmt.Errorf("%w: host is required", ErrInvalidInstance)
	}
	if inst.Port <= 0 || inst.Port > 65535 {
		return Instance{}, fmt.Errorf("%w: port %d out of range", ErrInvalidInstance, inst.Port)
	}
	if inst.InstanceID == "" {
		inst.InstanceID = uuid.NewString()
	}
	if inst.LeaseDurationSeconds <= 0 {
		inst.LeaseDurationSeconds = int(s.defaultLease / time.Second)
	}

	now := s.now()
	inst = inst.clone()
	inst.Status = StatusStarting
	inst.LastRenewal = now
	inst.RegisteredAt = now
	inst.EvictedAt = time.Time{}
	inst.countedPeriod = 0

	p := s.partition(inst.ServiceName)
	p.mu.Lock()
	prev, existed := p.instances[inst.InstanceID]
	if existed && !prev.Evicted() {
		inst.RegisteredAt = prev.RegisteredAt
		inst.countedPeriod = prev.countedPeriod
	}
	p.instances[inst.InstanceID] = inst
	p.mu.Unlock()

	registrationsTotal.Inc()
	s.log.Info("instance registered", map[string]interface{}{
		logger.FieldService:    inst.ServiceName,
		logger.FieldInstanceID: inst.InstanceID,
		logger.FieldAddress:    inst.Address(),
		"replaced":             existed,
	})
	return inst.clone(), nil
}

// Deregister removes the instance. Unknown instances are not an error; the
// return value reports whether something was removed.
func (s *Store) Deregister(service, instanceID string) bool {
	p, ok := s.lookup(service)
	if !ok {
		return false
	}
	p.mu.Lock()
	_, existed := p.instances[instanceID]
	delete(p.instances, instanceID)
	p.mu.Unlock()

	if existed {
		s.log.Info("instance deregistered", logger.InstanceFields(service, instanceID))
	}
	return existed
}

// SetStatus changes the status of a registered, non-evicted instance.
func (s *Store) SetStatus(service, instanceID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	err := s.update(service, instanceID, func(inst *Instance) error {
		inst.Status = status
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("instance status changed", logger.Fields(
		logger.FieldService, service,
		logger.FieldInstanceID, instanceID,
		logger.FieldStatus, string(status),
	))
	return nil
}

// update applies fn to one live instance under the partition write lock.
// Evicted instances are reported as not found.
func (s *Store) update(service, instanceID string, fn func(*Instance) error) error {
	p, ok := s.lookup(service)
	if !ok {
		return notFound(service, instanceID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	inst, ok := p.instances[instanceID]
	if !ok || inst.Evicted() {
		return notFound(service, instanceID)
	}
	if err := fn(&inst); err != nil {
		return err
	}
	p.instances[instanceID] = inst
	return nil
}

// Snapshot returns the UP instances of service ordered by instance id. The
// result is empty, not an error, for unknown services.
func (s *Store) Snapshot(service string) []Instance {
	return s.collect(service, func(inst Instance) bool {
		return inst.Status == StatusUp && !inst.Evicted()
	})
}

// Instances returns every instance of service in any state, ordered by id.
func (s *Store) Instances(service string) []Instance {
	return s.collect(service, func(Instance) bool { return true })
}

func (s *Store) collect(service string, keep func(Instance) bool) []Instance {
	p, ok := s.lookup(service)
	if !ok {
		return []Instance{}
	}
	p.mu.RLock()
	out := make([]Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		if keep(inst) {
			out = append(out, inst.clone())
		}
	}
	p.mu.RUnlock()

	slices.SortFunc(out, func(a, b Instance) int { return strings.Compare(a.InstanceID, b.InstanceID) })
	return out
}

// Get returns one instance in any state.
func (s *Store) Get(service, instanceID string) (Instance, bool) {
	p, ok := s.lookup(service)
	if !ok {
		return Instance{}, false
	}
	p.mu.RLock()
	inst, ok := p.instances[instanceID]
	p.mu.RUnlock()
	if !ok {
		return Instance{}, false
	}
	return inst.clone(), true
}

// Services returns the known service names in sorted order. Services whose
// partition is empty are included.
func (s *Store) Services() []string {
	var names []string
	s.partitions.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	slices.Sort(names)
	return names
}

// Count returns the number of instances per status across all services.
// Evicted instances are counted as DOWN.
func (s *Store) Count() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	s.partitions.Range(func(_, value any) bool {
		p := value.(*partition)
		p.mu.RLock()
		for _, inst := range p.instances {
			counts[inst.Status]++
		}
		p.mu.RUnlock()
		return true
	})
	return counts
}

// instanceIDs lists the ids of one partition; used by the sweep so that it
// only holds the partition lock per instance decision.
func (p *partition) instanceIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) forEachPartition(fn func(service string, p *partition)) {
	s.partitions.Range(func(key, value any) bool {
		fn(key.(string), value.(*partition))
		return true
	})
}
