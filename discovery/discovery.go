package discovery

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/registry"
)

var (
	// ErrNoAvailableInstance is returned when a service has no UP instance.
	ErrNoAvailableInstance = stderrors.New("no available instance")
	// ErrUnknownSource is returned by NewSource for unregistered source names.
	ErrUnknownSource = stderrors.New("unknown discovery source")
)

// NoAvailableInstanceError names the service that could not be resolved.
// It matches ErrNoAvailableInstance.
type NoAvailableInstanceError struct {
	ServiceName string
}

func (e *NoAvailableInstanceError) Error() string {
	return fmt.Sprintf("no available instance for service %q", e.ServiceName)
}

// Is makes errors.Is(err, ErrNoAvailableInstance) true.
func (e *NoAvailableInstanceError) Is(target error) bool {
	return target == ErrNoAvailableInstance
}

func init() {
	errors.RegisterMapping(ErrNoAvailableInstance, func(err error) *errors.AppError {
		var na *NoAvailableInstanceError
		if stderrors.As(err, &na) {
			return errors.NoAvailableInstance(na.ServiceName)
		}
		return errors.NoAvailableInstance("")
	})
}

// Source returns the current UP instances of a service. Implementations must
// be safe for concurrent use and return a slice the caller may keep.
type Source interface {
	Snapshot(ctx context.Context, service string) ([]registry.Instance, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, service string) ([]registry.Instance, error)

// Snapshot calls f.
func (f SourceFunc) Snapshot(ctx context.Context, service string) ([]registry.Instance, error) {
	return f(ctx, service)
}

// LocalSource reads snapshots straight from an in-process store.
func LocalSource(store *registry.Store) Source {
	return SourceFunc(func(_ context.Context, service string) ([]registry.Instance, error) {
		return store.Snapshot(service), nil
	})
}
