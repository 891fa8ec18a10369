package timekeeper

import (
	"errors"
	"fmt"

	"github.com/timechain/timekeeper/model/pot"
)

// ProductionFailureError is thrown to the supervising context when the
// production loop cannot produce a structurally valid proof for a slot it is
// responsible for. A clock that cannot advance is useless to every consumer,
// so this is fatal for the engine.
type ProductionFailureError struct {
	Slot pot.Slot
	Err  error
}

func (e ProductionFailureError) Error() string {
	return fmt.Sprintf("proof production failed at slot %d: %s", e.Slot, e.Err.Error())
}

func (e ProductionFailureError) Unwrap() error {
	return e.Err
}

// NewProductionFailureErrorf constructs a ProductionFailureError for the
// given slot, wrapping the formatted cause.
func NewProductionFailureErrorf(slot pot.Slot, msg string, args ...interface{}) error {
	return ProductionFailureError{
		Slot: slot,
		Err:  fmt.Errorf(msg, args...),
	}
}

// IsProductionFailureError returns whether err is a ProductionFailureError.
func IsProductionFailureError(err error) bool {
	var target ProductionFailureError
	return errors.As(err, &target)
}
