package registry

import (
	stderrors "errors"
	"fmt"

	"github.com/kbukum/meshkit/errors"
)

var (
	// ErrInstanceNotFound is returned for unknown or already evicted instances.
	ErrInstanceNotFound = stderrors.New("instance not found")
	// ErrInvalidInstance is returned when a registration lacks required fields.
	ErrInvalidInstance = stderrors.New("invalid instance")
	// ErrInvalidStatus is returned for unknown status names.
	ErrInvalidStatus = stderrors.New("invalid status")
)

// NotFoundError identifies the missing instance. It matches ErrInstanceNotFound.
type NotFoundError struct {
	ServiceName string
	InstanceID  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("instance %s/%s not found", e.ServiceName, e.InstanceID)
}

// Is makes errors.Is(err, ErrInstanceNotFound) true.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrInstanceNotFound
}

func notFound(service, id string) error {
	return &NotFoundError{ServiceName: service, InstanceID: id}
}

func init() {
	errors.RegisterMapping(ErrInstanceNotFound, func(err error) *errors.AppError {
		var nf *NotFoundError
		if stderrors.As(err, &nf) {
			return errors.InstanceNotFound(nf.ServiceName, nf.InstanceID)
		}
		return errors.InstanceNotFound("", "")
	})
	errors.RegisterMapping(ErrInvalidInstance, func(err error) *errors.AppError {
		return errors.Validation(err.Error())
	})
	errors.RegisterMapping(ErrInvalidStatus, func(err error) *errors.AppError {
		return errors.InvalidInput("status", err.Error())
	})
}
