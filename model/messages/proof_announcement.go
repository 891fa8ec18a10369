// Package messages contains the wire-level message types exchanged over the
// gossip channel. Messages carry only content; identities are derived from
// that content when needed, so an attacker cannot announce one proof under
// the identity of another.
package messages

import (
	"github.com/timechain/timekeeper/model/pot"
)

// ProofAnnouncement disseminates a newly produced or newly accepted
// proof-of-time proof to peers. It is fire-and-forget: receivers never
// respond, and invalid announcements are dropped silently.
type ProofAnnouncement struct {
	SlotNumber     pot.Slot     `cbor:"1,keyasint"`
	Seed           pot.Seed     `cbor:"2,keyasint"`
	SlotIterations uint64       `cbor:"3,keyasint"`
	Checkpoints    []pot.Output `cbor:"4,keyasint"`
}

// ProofAnnouncementFromProof builds the announcement for a proof.
func ProofAnnouncementFromProof(proof *pot.Proof) *ProofAnnouncement {
	return &ProofAnnouncement{
		SlotNumber:     proof.SlotNumber,
		Seed:           proof.Seed,
		SlotIterations: proof.SlotIterations,
		Checkpoints:    proof.Checkpoints,
	}
}

// ToProof converts the announcement back into the model type. No validation
// happens here; the receiving engine is responsible for structural checks
// and verification.
func (a *ProofAnnouncement) ToProof() *pot.Proof {
	return &pot.Proof{
		SlotNumber:     a.SlotNumber,
		Seed:           a.Seed,
		SlotIterations: a.SlotIterations,
		Checkpoints:    a.Checkpoints,
	}
}
