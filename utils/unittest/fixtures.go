package unittest

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timechain/timekeeper/crypto/vdf"
	"github.com/timechain/timekeeper/model/pot"
)

// FixtureIterations is the per-slot iteration count used by proof fixtures.
// Small enough to keep tests fast, large enough to exercise all
// checkpoints.
const FixtureIterations uint64 = 64

// SeedFixture returns a random seed.
func SeedFixture() pot.Seed {
	var seed pot.Seed
	_, _ = rand.Read(seed[:])
	return seed
}

// EntropyFixture returns a random entropy value.
func EntropyFixture() pot.Entropy {
	var entropy pot.Entropy
	_, _ = rand.Read(entropy[:])
	return entropy
}

// ProofFixture returns a valid proof for the given slot over a random seed.
func ProofFixture(t *testing.T, slot pot.Slot) *pot.Proof {
	return ProofFixtureWithSeed(t, slot, SeedFixture())
}

// ProofFixtureWithSeed returns a valid proof for the given slot and seed.
func ProofFixtureWithSeed(t *testing.T, slot pot.Slot, seed pot.Seed) *pot.Proof {
	proof, err := vdf.Prove(slot, seed, FixtureIterations)
	require.NoError(t, err)
	return proof
}

// ChainFixture returns n valid proofs for slots [1, n], each seeded from
// the previous proof's output, starting from the given genesis seed. No
// entropy injection is applied.
func ChainFixture(t *testing.T, genesisSeed pot.Seed, n int) []*pot.Proof {
	proofs := make([]*pot.Proof, 0, n)
	seed := genesisSeed
	for slot := pot.Slot(1); slot <= pot.Slot(n); slot++ {
		proof := ProofFixtureWithSeed(t, slot, seed)
		proofs = append(proofs, proof)
		seed = pot.NextSeed(proof.Output())
	}
	return proofs
}
