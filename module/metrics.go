package module

import (
	"time"

	"github.com/timechain/timekeeper/model/pot"
)

// TimekeeperMetrics tracks the behavior of the clock engine's production
// loop and canonical chain.
type TimekeeperMetrics interface {
	// SlotProduced reports a locally produced slot and how long the delay
	// function took for it.
	SlotProduced(slot pot.Slot, duration time.Duration)

	// EntropyInjected reports an entropy injection; stale indicates the
	// injection deadline was missed and the previous value was reused.
	EntropyInjected(slot pot.Slot, stale bool)

	// SlotFinalized reports advancement of the finalized slot.
	SlotFinalized(slot pot.Slot)

	// Reorg reports replacement of an unfinalized local suffix by a peer
	// sequence, with the number of slots replaced.
	Reorg(depth uint64)

	// Retargeted reports a change of the iterations-per-slot parameter.
	Retargeted(iterations uint64)
}

// RelayMetrics tracks inbound and outbound gossip volume at the relay.
type RelayMetrics interface {
	// ProofReceived reports an inbound proof announcement.
	ProofReceived()

	// ProofDropped reports an inbound announcement dropped before
	// verification, labeled by reason (duplicate, rate-limited, malformed).
	ProofDropped(reason string)

	// ProofVerified reports the outcome of verifying a novel inbound proof.
	ProofVerified(valid bool)

	// ProofBroadcast reports an outbound announcement.
	ProofBroadcast()

	// SlowPathVerification reports a verification that had to fall back to
	// full sequential replay.
	SlowPathVerification()
}

// MempoolMetrics exposes the sizes of node-internal memory pools.
type MempoolMetrics interface {
	MempoolEntries(resource string, entries uint)
}
