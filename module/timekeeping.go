package module

import (
	"context"

	"github.com/timechain/timekeeper/model/pot"
)

// EntropyProvider is the consensus/chain-state collaborator that supplies
// the external entropy mixed into the seed chain at injection slots.
type EntropyProvider interface {
	// CurrentInjectableEntropy returns the latest entropy value that may be
	// injected into the time chain. The clock engine calls this with a
	// bounded-timeout context at each injection slot; implementations must
	// respect context cancellation.
	CurrentInjectableEntropy(ctx context.Context) (pot.Entropy, error)
}

// IterationsTargetProvider is the policy input for difficulty-style
// retargeting of how many delay-function iterations constitute one slot.
type IterationsTargetProvider interface {
	// SlotIterationsTarget returns the currently desired iterations per
	// slot. Retargeting only ever affects future slots.
	SlotIterationsTarget() uint64
}

// EntropyAuditor is the consensus-layer collaborator that decides whether
// the seed claimed for an entropy-injection slot traces back to accepted
// chain state. It is consulted by the chain selector when two candidate
// sequences have equal length.
type EntropyAuditor interface {
	SeedTracesToChainState(slot pot.Slot, seed pot.Seed) bool
}

// ProofBroadcaster hands newly produced or newly accepted proofs to the
// gossip layer for dissemination. Implementations must be non-blocking
// relative to the caller; the clock engine's production loop never waits on
// network I/O.
type ProofBroadcaster interface {
	BroadcastProof(proof *pot.Proof)
}

// ProofSubscription is a restartable push feed of canonical proofs, consumed
// by the block-production loop to learn when it may attempt the next slot.
type ProofSubscription interface {
	// Ch returns the channel proofs are delivered on. The channel is closed
	// when the subscription is cancelled or the engine shuts down.
	Ch() <-chan *pot.Proof

	// Unsubscribe cancels the subscription. Idempotent.
	Unsubscribe()
}

// Timekeeper is the interface the clock engine exposes to the consensus and
// block-production collaborators.
type Timekeeper interface {
	// TimeAt returns the canonical proof for the given slot. It returns
	// timechain.ErrNotYetProduced if the slot is beyond the current head.
	TimeAt(slot pot.Slot) (*pot.Proof, error)

	// SubscribeProofs opens a new subscription delivering every canonical
	// proof from the moment of subscription onward. Subscriptions may be
	// dropped and reopened at any time.
	SubscribeProofs() ProofSubscription

	// SetSlotIterations retargets how many iterations constitute one slot,
	// taking effect at the next slot boundary. The value must be a positive
	// multiple of pot.NumCheckpoints.
	SetSlotIterations(iterations uint64) error
}
