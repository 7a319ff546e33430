// Package discovery resolves logical service names to concrete instances.
//
// A Source supplies the UP instances of a service. Sources are pluggable and
// registered by name:
//
//   - discovery/static: a fixed instance list from configuration
//   - discovery/remote: the registry HTTP API, with a short TTL cache
//   - discovery/consul: passing entries from the Consul health API
//
// LocalSource wraps an in-process registry.Store.
//
// The Resolver picks one instance per call using a round-robin counter scoped
// to the service name. Client combines a Resolver with an httpclient so callers
// address services by name instead of by host.
//
// The instance side lives in discovery/agent, which registers a process with
// a registry server and keeps its lease alive.
package discovery
