package stdmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module/mempool"
	"github.com/timechain/timekeeper/module/mempool/stdmap"
	"github.com/timechain/timekeeper/utils/unittest"
)

// TestAddIdempotent checks that re-inserting an identical proof is a no-op.
func TestAddIdempotent(t *testing.T) {
	pool, err := stdmap.NewProofs(10)
	require.NoError(t, err)

	proof := unittest.ProofFixture(t, 1)
	require.NoError(t, pool.Add(proof))
	require.NoError(t, pool.Add(proof))
	assert.Equal(t, uint(1), pool.Size())
}

// TestAddConflicting checks that inserting a different proof for an occupied
// slot is rejected.
func TestAddConflicting(t *testing.T) {
	pool, err := stdmap.NewProofs(10)
	require.NoError(t, err)

	require.NoError(t, pool.Add(unittest.ProofFixture(t, 5)))

	conflicting := unittest.ProofFixtureWithSeed(t, 5, pot.GenesisSeed([]byte("other fork")))
	err = pool.Add(conflicting)
	require.ErrorIs(t, err, mempool.ErrConflictingProof)

	stored, ok := pool.BySlot(5)
	require.True(t, ok)
	assert.NotEqual(t, conflicting.ID(), stored.ID())
}

// TestEvictionOldestFirst fills the pool beyond capacity and checks that
// only the lowest slots are evicted, never higher ones.
func TestEvictionOldestFirst(t *testing.T) {
	const capacity = 4
	pool, err := stdmap.NewProofs(capacity)
	require.NoError(t, err)

	proofs := make(map[pot.Slot]*pot.Proof)
	for slot := pot.Slot(1); slot <= 10; slot++ {
		proof := unittest.ProofFixture(t, slot)
		proofs[slot] = proof
		require.NoError(t, pool.Add(proof))

		lowest, ok := pool.LowestSlot()
		require.True(t, ok)
		if slot > capacity {
			assert.Equal(t, slot-capacity+1, lowest)
		} else {
			assert.Equal(t, pot.Slot(1), lowest)
		}
	}

	assert.Equal(t, uint(capacity), pool.Size())
	for slot := pot.Slot(1); slot <= 6; slot++ {
		_, ok := pool.BySlot(slot)
		assert.False(t, ok, "slot %d should have been evicted", slot)
		assert.False(t, pool.Has(proofs[slot].ID()))
	}
	for slot := pot.Slot(7); slot <= 10; slot++ {
		_, ok := pool.BySlot(slot)
		assert.True(t, ok, "slot %d should be retained", slot)
		assert.True(t, pool.Has(proofs[slot].ID()))
	}
}

// TestReplaceFrom reorganizes a suffix and checks membership and the
// identity index afterwards.
func TestReplaceFrom(t *testing.T) {
	pool, err := stdmap.NewProofs(10)
	require.NoError(t, err)

	original := make([]*pot.Proof, 0)
	for slot := pot.Slot(1); slot <= 5; slot++ {
		proof := unittest.ProofFixture(t, slot)
		original = append(original, proof)
		require.NoError(t, pool.Add(proof))
	}

	fork4 := unittest.ProofFixtureWithSeed(t, 4, pot.GenesisSeed([]byte("reorg")))
	fork5 := unittest.ProofFixtureWithSeed(t, 5, pot.NextSeed(fork4.Output()))
	replacements := []*pot.Proof{fork4, fork5}
	require.NoError(t, pool.ReplaceFrom(4, replacements))

	assert.Equal(t, uint(5), pool.Size())
	for _, proof := range original[3:] {
		assert.False(t, pool.Has(proof.ID()))
	}
	for _, proof := range replacements {
		assert.True(t, pool.Has(proof.ID()))
	}

	// replacements below the replacement point are rejected
	err = pool.ReplaceFrom(4, []*pot.Proof{unittest.ProofFixture(t, 2)})
	require.Error(t, err)
}
