// Package pot contains the data model for the proof-of-time chain: seeds,
// outputs, slots, entropy values, and the proofs that tie them together.
//
// The seed chain is self-referential: the seed for every slot is derived from
// the output of the previous slot, optionally mixed with externally injected
// entropy at scheduled injection slots. The chain is represented as an
// append-only, slot-indexed sequence (see consensus/timechain) rather than a
// linked structure.
package pot

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

const (
	// SeedSize is the byte length of a Seed, matching the block size of the
	// delay function's cipher.
	SeedSize = 16

	// OutputSize is the byte length of an Output.
	OutputSize = 16

	// EntropySize is the byte length of an externally injected entropy value.
	EntropySize = 32

	// NumCheckpoints is the fixed number of checkpoints recorded per proof.
	// SlotIterations must always be a positive multiple of NumCheckpoints so
	// that every checkpoint covers the same number of sequential steps.
	NumCheckpoints = 8
)

// Slot identifies one discrete time unit of the proof-of-time chain. Slots
// are strictly monotonically increasing; slot 0 is the genesis anchor and
// carries no proof.
type Slot uint64

// Seed is the deterministic starting point for the delay function at one
// slot.
type Seed [SeedSize]byte

// Output is the result of running the delay function for a full slot, and
// also the type of intermediate checkpoints.
type Output [OutputSize]byte

// Entropy is an externally supplied randomness value, provided by the
// consensus layer, that is mixed into the seed chain at injection slots.
type Entropy [EntropySize]byte

// NextSeed derives the seed for slot n+1 from the output of slot n.
func NextSeed(prev Output) Seed {
	digest := blake2b.Sum256(prev[:])
	var seed Seed
	copy(seed[:], digest[:SeedSize])
	return seed
}

// NextSeedWithEntropy derives the seed for an entropy-injection slot by
// mixing the injected entropy into the previous output. Injection binds the
// time chain to chain state and defeats precomputation of future seeds.
func NextSeedWithEntropy(prev Output, entropy Entropy) Seed {
	buf := make([]byte, 0, OutputSize+EntropySize)
	buf = append(buf, prev[:]...)
	buf = append(buf, entropy[:]...)
	digest := blake2b.Sum256(buf)
	var seed Seed
	copy(seed[:], digest[:SeedSize])
	return seed
}

// GenesisSeed derives the seed of slot 1 from a chain-specific tag, e.g. the
// genesis block hash.
func GenesisSeed(tag []byte) Seed {
	digest := blake2b.Sum256(tag)
	var seed Seed
	copy(seed[:], digest[:SeedSize])
	return seed
}

func appendUint64(buf []byte, v uint64) []byte {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], v)
	return append(buf, scratch[:]...)
}
