// Package registry holds the in-memory service registry and its lease
// manager.
//
// A Store keeps one partition per service name, each behind its own lock.
// Instances register in STARTING, move to UP on their first heartbeat, and
// are evicted by the LeaseManager when no heartbeat arrived within
// lease×EvictionFactor. Evicted instances stay visible as DOWN for the
// eviction grace window and are then removed.
//
// Self-preservation suspends eviction while the fraction of missed
// heartbeats in the sliding window exceeds the configured threshold, which
// is what a network partition between the registry and its clients looks
// like.
//
//	comp := registry.NewComponent(cfg.Registry, log)
//	inst, _ := comp.Store().Register(registry.Instance{ServiceName: "user-service", Host: "10.0.0.5", Port: 9001})
//	_, _ = comp.Lease().Renew(inst.ServiceName, inst.InstanceID)
//	healthy := comp.Store().Snapshot("user-service")
package registry
