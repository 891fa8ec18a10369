// Package mempool defines the interfaces of the node-internal memory pools.
package mempool

import (
	"errors"

	"github.com/timechain/timekeeper/model/pot"
)

// ErrConflictingProof is returned when inserting a proof for a slot that
// already holds a different proof. Slots in the cache reflect the canonical
// sequence; a conflicting insert is rejected rather than overwriting.
var ErrConflictingProof = errors.New("conflicting proof for occupied slot")

// Proofs is a bounded, slot-keyed pool of verified proofs. It is shared
// between the clock engine (writer) and the gossip relay and consumers
// (readers); implementations must be safe for concurrent use.
//
// Eviction is strict oldest-slot-first once capacity is exceeded: newer
// proofs are needed to validate chain continuation, older ones only for
// retrospective audit.
type Proofs interface {
	// Add inserts the proof under its slot number. The operation is
	// idempotent: re-inserting an identical proof is a no-op. Inserting a
	// different proof for an occupied slot returns ErrConflictingProof.
	Add(proof *pot.Proof) error

	// ReplaceFrom removes all proofs at or above the given slot and inserts
	// the given replacements. Used by the single writer when an unfinalized
	// suffix is reorganized.
	ReplaceFrom(slot pot.Slot, proofs []*pot.Proof) error

	// BySlot returns the proof stored for the given slot, if present.
	BySlot(slot pot.Slot) (*pot.Proof, bool)

	// Has returns whether a proof with the given content-derived identity is
	// in the pool.
	Has(id pot.Identifier) bool

	// Size returns the number of proofs in the pool.
	Size() uint

	// Limit returns the pool's capacity.
	Limit() uint

	// LowestSlot returns the lowest slot currently present, or false if the
	// pool is empty.
	LowestSlot() (pot.Slot, bool)
}
