package pot

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Identifier uniquely identifies a proof. It is derived from the proof's
// contents (seed, iteration count, and final output), never carried as a
// separate field, so an identifier can never disagree with the proof it
// names.
type Identifier [32]byte

// ZeroID is the zero value of Identifier.
var ZeroID = Identifier{}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// Proof is the verifiable result of exactly SlotIterations sequential steps
// of the delay function starting from Seed. Checkpoints are intermediate
// outputs recorded every SlotIterations/NumCheckpoints steps; the last
// checkpoint is the final output. Proofs are immutable once produced.
type Proof struct {
	SlotNumber     Slot     `cbor:"1,keyasint"`
	Seed           Seed     `cbor:"2,keyasint"`
	SlotIterations uint64   `cbor:"3,keyasint"`
	Checkpoints    []Output `cbor:"4,keyasint"`
}

// Output returns the final output of the proof, i.e. the last checkpoint.
// The proof must be structurally valid.
func (p *Proof) Output() Output {
	return p.Checkpoints[len(p.Checkpoints)-1]
}

// ID returns the content-derived identity of the proof:
// H(seed || iterations || output).
func (p *Proof) ID() Identifier {
	buf := make([]byte, 0, SeedSize+8+OutputSize)
	buf = append(buf, p.Seed[:]...)
	buf = appendUint64(buf, p.SlotIterations)
	out := p.Output()
	buf = append(buf, out[:]...)
	return blake2b.Sum256(buf)
}

// CheckStructure verifies the structural well-formedness of the proof
// without re-deriving any delay-function work: the iteration count must be a
// positive multiple of NumCheckpoints and exactly NumCheckpoints checkpoints
// must be present. Returns a MalformedProofError describing the first
// violation found, or nil.
func (p *Proof) CheckStructure() error {
	if p.SlotNumber == 0 {
		return NewMalformedProofErrorf("proof for genesis slot 0")
	}
	if p.SlotIterations == 0 {
		return NewMalformedProofErrorf("zero iterations")
	}
	if p.SlotIterations%NumCheckpoints != 0 {
		return NewMalformedProofErrorf("iterations (%d) not a multiple of checkpoint count (%d)", p.SlotIterations, NumCheckpoints)
	}
	if len(p.Checkpoints) != NumCheckpoints {
		return NewMalformedProofErrorf("expected %d checkpoints, got %d", NumCheckpoints, len(p.Checkpoints))
	}
	return nil
}

// MalformedProofError indicates a proof that violates structural constraints
// (wrong lengths, wrong checkpoint count). Such proofs are rejected without
// any delay-function work.
type MalformedProofError struct {
	msg string
}

func NewMalformedProofErrorf(msg string, args ...interface{}) MalformedProofError {
	return MalformedProofError{msg: fmt.Sprintf(msg, args...)}
}

func (e MalformedProofError) Error() string {
	return "malformed proof: " + e.msg
}

// IsMalformedProofError returns whether err is a MalformedProofError.
func IsMalformedProofError(err error) bool {
	var target MalformedProofError
	return errors.As(err, &target)
}
