package timechain

import (
	"errors"
)

// ErrNotYetProduced is returned by TimeAt for slots beyond the current head
// of the canonical sequence.
var ErrNotYetProduced = errors.New("slot not yet produced")

// ErrBelowRoot is returned for slots below the sequence's root, i.e. slots
// that were finalized before the node (re)started and are not held in
// memory.
var ErrBelowRoot = errors.New("slot below sequence root")

// ErrReorgBeyondFinality is returned when a candidate peer sequence diverges
// at or before the finalized slot. Such candidates are rejected
// unconditionally, regardless of length or entropy criteria.
var ErrReorgBeyondFinality = errors.New("candidate diverges beyond finality depth")

// ErrNonContiguous is returned when an entry does not continue the sequence:
// wrong slot number, or a seed that does not chain from the previous output.
var ErrNonContiguous = errors.New("entry does not continue the sequence")
