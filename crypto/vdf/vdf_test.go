package vdf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timechain/timekeeper/crypto/vdf"
	"github.com/timechain/timekeeper/model/pot"
)

// TestProveVerifyRoundtrip checks that every proof produced by Prove passes
// Verify, across several iteration counts.
func TestProveVerifyRoundtrip(t *testing.T) {
	seed := pot.GenesisSeed([]byte("roundtrip"))
	for _, iterations := range []uint64{8, 64, 1000, 4096} {
		proof, err := vdf.Prove(1, seed, iterations)
		require.NoError(t, err)
		require.NoError(t, vdf.Verify(proof))
		require.NoError(t, vdf.SequentialVerify(proof))
	}
}

// TestProveDeterminism checks that Prove called twice with the same inputs
// yields byte-identical checkpoints.
func TestProveDeterminism(t *testing.T) {
	seed := pot.GenesisSeed([]byte("determinism"))

	first, err := vdf.Prove(3, seed, 1000)
	require.NoError(t, err)
	second, err := vdf.Prove(3, seed, 1000)
	require.NoError(t, err)

	require.Equal(t, first.Checkpoints, second.Checkpoints)
	require.Equal(t, first.Output(), second.Output())
	require.Equal(t, first.ID(), second.ID())
}

// TestVerifyTamperedCheckpoint flips a single byte in each checkpoint in
// turn and requires verification to fail every time.
func TestVerifyTamperedCheckpoint(t *testing.T) {
	seed := pot.GenesisSeed([]byte("tamper"))
	proof, err := vdf.Prove(1, seed, 128)
	require.NoError(t, err)

	for c := 0; c < pot.NumCheckpoints; c++ {
		tampered := *proof
		tampered.Checkpoints = make([]pot.Output, len(proof.Checkpoints))
		copy(tampered.Checkpoints, proof.Checkpoints)
		tampered.Checkpoints[c][0] ^= 0x01

		err := vdf.Verify(&tampered)
		require.Error(t, err, "checkpoint %d", c)
		assert.True(t, vdf.IsVerificationMismatchError(err))

		err = vdf.SequentialVerify(&tampered)
		require.Error(t, err, "checkpoint %d (sequential)", c)
		assert.True(t, vdf.IsVerificationMismatchError(err))
	}
}

// TestVerifyMalformed covers the structural fast-fail paths: wrong
// checkpoint count, zero iterations, iteration counts that do not divide
// evenly into chunks, and proofs claiming the genesis slot.
func TestVerifyMalformed(t *testing.T) {
	seed := pot.GenesisSeed([]byte("malformed"))
	proof, err := vdf.Prove(1, seed, 128)
	require.NoError(t, err)

	t.Run("truncated checkpoints", func(t *testing.T) {
		p := *proof
		p.Checkpoints = p.Checkpoints[:pot.NumCheckpoints-1]
		err := vdf.Verify(&p)
		require.Error(t, err)
		assert.True(t, pot.IsMalformedProofError(err))
	})

	t.Run("zero iterations", func(t *testing.T) {
		p := *proof
		p.SlotIterations = 0
		err := vdf.Verify(&p)
		require.Error(t, err)
		assert.True(t, pot.IsMalformedProofError(err))
	})

	t.Run("non-divisible iterations", func(t *testing.T) {
		p := *proof
		p.SlotIterations = 127
		err := vdf.Verify(&p)
		require.Error(t, err)
		assert.True(t, pot.IsMalformedProofError(err))
	})

	t.Run("genesis slot", func(t *testing.T) {
		p := *proof
		p.SlotNumber = 0
		err := vdf.Verify(&p)
		require.Error(t, err)
		assert.True(t, pot.IsMalformedProofError(err))
	})
}

// TestProveRejectsBadIterations checks that production itself refuses
// iteration counts that cannot be evenly checkpointed.
func TestProveRejectsBadIterations(t *testing.T) {
	seed := pot.GenesisSeed([]byte("bad-iterations"))
	for _, iterations := range []uint64{0, 7, 1001} {
		_, err := vdf.Prove(1, seed, iterations)
		require.Error(t, err)
	}
}

// TestSeedChaining checks the seed derivation that links consecutive
// proofs: deterministic, sensitive to entropy injection, and distinct from
// the plain derivation when entropy is mixed in.
func TestSeedChaining(t *testing.T) {
	seed := pot.GenesisSeed([]byte("chain"))
	proof, err := vdf.Prove(1, seed, 64)
	require.NoError(t, err)

	plain := pot.NextSeed(proof.Output())
	require.Equal(t, plain, pot.NextSeed(proof.Output()))

	var entropy pot.Entropy
	entropy[0] = 0xff
	mixed := pot.NextSeedWithEntropy(proof.Output(), entropy)
	require.Equal(t, mixed, pot.NextSeedWithEntropy(proof.Output(), entropy))
	require.NotEqual(t, plain, mixed)
}
