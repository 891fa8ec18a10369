package vdf

import (
	"errors"
	"fmt"
)

// VerificationMismatchError indicates that a structurally well-formed proof
// failed chunk re-derivation: the delay function run from the chunk's
// declared starting point did not produce the declared checkpoint.
type VerificationMismatchError struct {
	Chunk int
}

func (e VerificationMismatchError) Error() string {
	return fmt.Sprintf("verification mismatch: checkpoint %d not reachable from its predecessor", e.Chunk)
}

// IsVerificationMismatchError returns whether err is a
// VerificationMismatchError.
func IsVerificationMismatchError(err error) bool {
	var target VerificationMismatchError
	return errors.As(err, &target)
}
