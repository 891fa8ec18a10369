package engine

import (
	"errors"
	"fmt"
)

// InvalidInputError are errors for invalid external inputs, e.g. a proof
// announcement from the network that fails validation. Invalid inputs are
// protocol-level rejections: they are logged, possibly reported as
// misbehavior, and otherwise dropped without escalation.
//
// By definition, everything that is not an InvalidInputError is treated as
// an exception and escalated to the supervisor.
type InvalidInputError struct {
	err error
}

func NewInvalidInputErrorf(msg string, args ...interface{}) error {
	return InvalidInputError{
		err: fmt.Errorf(msg, args...),
	}
}

func (e InvalidInputError) Unwrap() error {
	return e.err
}

func (e InvalidInputError) Error() string {
	return e.err.Error()
}

// IsInvalidInputError returns whether the given error is an
// InvalidInputError.
func IsInvalidInputError(err error) bool {
	var errInvalidInput InvalidInputError
	return errors.As(err, &errInvalidInput)
}
