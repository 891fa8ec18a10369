// Package vdf implements the verifiable delay function underlying the
// proof-of-time chain.
//
// The delay primitive is chained AES-128 block encryption with the seed as
// the key: each step encrypts the previous 16-byte state in place. The
// security argument is that a single hardware-accelerated AES round trip
// lower-bounds real elapsed time per step and the chaining admits no
// parallel shortcut. Checkpoints are recorded at a fixed stride so that
// verification can re-derive the chunks between checkpoints in parallel,
// bounding verifier latency to roughly production-time/NumCheckpoints on a
// machine with enough cores.
package vdf

import (
	"crypto/aes"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/timechain/timekeeper/model/pot"
)

// Prove runs the delay function for exactly iterations sequential steps from
// seed and returns the proof for the given slot. The iteration count must be
// a positive multiple of pot.NumCheckpoints.
//
// Prove is strictly sequential and deterministic: the same (seed,
// iterations) always yields byte-identical checkpoints. It performs no I/O
// and spawns no goroutines; callers are expected to run it on a dedicated
// execution context.
func Prove(slot pot.Slot, seed pot.Seed, iterations uint64) (*pot.Proof, error) {
	if iterations == 0 || iterations%pot.NumCheckpoints != 0 {
		return nil, fmt.Errorf("iteration count must be a positive multiple of %d, got %d", pot.NumCheckpoints, iterations)
	}

	cipher, err := aes.NewCipher(seed[:])
	if err != nil {
		return nil, fmt.Errorf("could not initialize delay cipher: %w", err)
	}

	stride := iterations / pot.NumCheckpoints
	state := pot.Output(seed)
	checkpoints := make([]pot.Output, 0, pot.NumCheckpoints)
	for c := uint64(0); c < pot.NumCheckpoints; c++ {
		for i := uint64(0); i < stride; i++ {
			cipher.Encrypt(state[:], state[:])
		}
		checkpoints = append(checkpoints, state)
	}

	return &pot.Proof{
		SlotNumber:     slot,
		Seed:           seed,
		SlotIterations: iterations,
		Checkpoints:    checkpoints,
	}, nil
}

// Verify checks that the proof's checkpoints form a valid delay-function
// chain from its seed. Each chunk between consecutive checkpoints is
// re-derived independently, in parallel, from its declared starting point.
//
// Error returns:
//   - pot.MalformedProofError if the proof violates structural constraints;
//     detected without any delay-function work.
//   - VerificationMismatchError if any chunk fails re-derivation. Distinct
//     from malformed input because it indicates a bug or a deliberate
//     forgery, and is tracked separately for diagnostics.
//   - generic error for exceptions (cipher initialization).
func Verify(proof *pot.Proof) error {
	if err := proof.CheckStructure(); err != nil {
		return err
	}

	stride := proof.SlotIterations / pot.NumCheckpoints

	var g errgroup.Group
	for c := 0; c < pot.NumCheckpoints; c++ {
		c := c
		g.Go(func() error {
			start := pot.Output(proof.Seed)
			if c > 0 {
				start = proof.Checkpoints[c-1]
			}
			derived, err := deriveChunk(proof.Seed, start, stride)
			if err != nil {
				return err
			}
			if derived != proof.Checkpoints[c] {
				return VerificationMismatchError{Chunk: c}
			}
			return nil
		})
	}
	return g.Wait()
}

// SequentialVerify is the correctness fallback for Verify: it replays the
// full sequential computation instead of checking chunks in parallel. It
// costs as much as Prove and exists for environments where the parallel
// path is unavailable; callers must flag its use as slow-path for
// observability.
func SequentialVerify(proof *pot.Proof) error {
	if err := proof.CheckStructure(); err != nil {
		return err
	}

	stride := proof.SlotIterations / pot.NumCheckpoints
	state := pot.Output(proof.Seed)
	for c := 0; c < pot.NumCheckpoints; c++ {
		derived, err := deriveChunk(proof.Seed, state, stride)
		if err != nil {
			return err
		}
		if derived != proof.Checkpoints[c] {
			return VerificationMismatchError{Chunk: c}
		}
		state = derived
	}
	return nil
}

// deriveChunk advances the delay function by steps iterations from start,
// keyed by seed.
func deriveChunk(seed pot.Seed, start pot.Output, steps uint64) (pot.Output, error) {
	cipher, err := aes.NewCipher(seed[:])
	if err != nil {
		return pot.Output{}, fmt.Errorf("could not initialize delay cipher: %w", err)
	}
	state := start
	for i := uint64(0); i < steps; i++ {
		cipher.Encrypt(state[:], state[:])
	}
	return state, nil
}
