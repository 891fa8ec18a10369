package network

// Misbehavior is a class of peer misbehavior that engines can report to the
// reputation collaborator. Penalization policy (scoring, decay,
// disallow-listing) is owned by that collaborator, not specified here.
type Misbehavior string

const (
	// ForgedProof is reported when a peer announces a proof whose
	// checkpoints fail re-derivation. Forging proofs is either a bug on the
	// sender or a deliberate attack on the time chain.
	ForgedProof Misbehavior = "misbehavior-forged-proof"

	// MalformedMessage is reported when a peer sends a structurally invalid
	// announcement (wrong lengths, wrong checkpoint count).
	MalformedMessage Misbehavior = "misbehavior-malformed-message"

	// Flooding is reported when a peer exceeds its inbound rate budget.
	Flooding Misbehavior = "misbehavior-flooding"
)

// MisbehaviorReport names a peer and the misbehavior observed. Reports are
// advisory; the reporting engine drops the offending message regardless.
type MisbehaviorReport struct {
	OriginID PeerID
	Reason   Misbehavior
}

// MisbehaviorReporter is implemented by the external reputation collaborator.
// ReportMisbehavior must be non-blocking.
type MisbehaviorReporter interface {
	ReportMisbehavior(report *MisbehaviorReport)
}
