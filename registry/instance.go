package registry

import (
	"fmt"
	"maps"
	"net"
	"strconv"
	"strings"
	"time"
)

// Status is the liveness state of an instance.
type Status string

const (
	StatusStarting     Status = "STARTING"
	StatusUp           Status = "UP"
	StatusDown         Status = "DOWN"
	StatusOutOfService Status = "OUT_OF_SERVICE"
	StatusUnknown      Status = "UNKNOWN"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusStarting, StatusUp, StatusDown, StatusOutOfService, StatusUnknown}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusUp, StatusDown, StatusOutOfService, StatusUnknown:
		return true
	}
	return false
}

// Instance is one registered process of a logical service.
type Instance struct {
	ServiceName          string            `json:"serviceName"`
	InstanceID           string            `json:"instanceId"`
	Host                 string            `json:"host"`
	Port                 int               `json:"port"`
	Status               Status            `json:"status"`
	LeaseDurationSeconds int               `json:"leaseDurationSeconds"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	RegisteredAt         time.Time         `json:"registeredAt"`
	LastRenewal          time.Time         `json:"lastRenewal"`
	// EvictedAt is set when the lease expired; the record is removed after the grace window.
	EvictedAt time.Time `json:"evictedAt,omitzero"`

	// countedPeriod is 1 + the lease period of the last renewal that was
	// counted for self-preservation; 0 means none yet.
	countedPeriod int64
}

// Address returns host:port for traffic.
func (i Instance) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// LeaseDuration returns the expected heartbeat interval.
func (i Instance) LeaseDuration() time.Duration {
	return time.Duration(i.LeaseDurationSeconds) * time.Second
}

// leasePeriod returns the 1-based index of the lease period that contains
// at, counted from registration.
func (i Instance) leasePeriod(at time.Time) int64 {
	lease := i.LeaseDuration()
	if lease <= 0 || at.Before(i.RegisteredAt) {
		return 1
	}
	return int64(at.Sub(i.RegisteredAt)/lease) + 1
}

// Key returns "service/instance".
func (i Instance) Key() string {
	return i.ServiceName + "/" + i.InstanceID
}

// Evicted reports whether the lease manager has expired the instance.
func (i Instance) Evicted() bool {
	return !i.EvictedAt.IsZero()
}

// clone returns a copy that shares no mutable state with i.
func (i Instance) clone() Instance {
	i.Metadata = maps.Clone(i.Metadata)
	return i
}
