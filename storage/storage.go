// Package storage defines the persistence interfaces of the proof-of-time
// subsystem and their sentinel errors. Only resume state is persisted here;
// blocks and chain state live in the node's main storage, outside this
// subsystem.
package storage

import (
	"errors"

	"github.com/timechain/timekeeper/model/pot"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Checkpoint is the minimal state needed to resume the clock
// deterministically after a restart, without replaying from genesis: the
// last finalized slot's proof plus the entropy-injection state at that
// point.
type Checkpoint struct {
	FinalizedSlot pot.Slot    `cbor:"1,keyasint"`
	Proof         pot.Proof   `cbor:"2,keyasint"`
	LastEntropy   pot.Entropy `cbor:"3,keyasint"`
}

// Checkpoints persists the latest clock checkpoint. Implementations must be
// safe for concurrent use; Store is called by the clock engine whenever the
// finalized slot advances.
type Checkpoints interface {
	// Store overwrites the persisted checkpoint. Writes are durable when
	// Store returns.
	Store(checkpoint *Checkpoint) error

	// Latest returns the persisted checkpoint, or ErrNotFound if the store
	// was never written (fresh node).
	Latest() (*Checkpoint, error)
}
