package pebble_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/storage"
	pebblestorage "github.com/timechain/timekeeper/storage/pebble"
	"github.com/timechain/timekeeper/utils/unittest"
)

func TestCheckpointRoundtrip(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		store, err := pebblestorage.NewCheckpoints(dir)
		require.NoError(t, err)
		defer func() {
			require.NoError(t, store.Close())
		}()

		// fresh store holds nothing
		_, err = store.Latest()
		require.ErrorIs(t, err, storage.ErrNotFound)

		proof := unittest.ProofFixture(t, 42)
		var entropy pot.Entropy
		entropy[3] = 0xab
		checkpoint := &storage.Checkpoint{
			FinalizedSlot: 42,
			Proof:         *proof,
			LastEntropy:   entropy,
		}
		require.NoError(t, store.Store(checkpoint))

		loaded, err := store.Latest()
		require.NoError(t, err)
		assert.Equal(t, checkpoint.FinalizedSlot, loaded.FinalizedSlot)
		assert.Equal(t, checkpoint.Proof.ID(), loaded.Proof.ID())
		assert.Equal(t, checkpoint.LastEntropy, loaded.LastEntropy)
	})
}

// TestCheckpointOverwrite checks that Store replaces the previous
// checkpoint; the clock only ever needs the latest one.
func TestCheckpointOverwrite(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		store, err := pebblestorage.NewCheckpoints(dir)
		require.NoError(t, err)
		defer func() {
			require.NoError(t, store.Close())
		}()

		for slot := pot.Slot(1); slot <= 3; slot++ {
			require.NoError(t, store.Store(&storage.Checkpoint{
				FinalizedSlot: slot,
				Proof:         *unittest.ProofFixture(t, slot),
			}))
		}

		loaded, err := store.Latest()
		require.NoError(t, err)
		assert.Equal(t, pot.Slot(3), loaded.FinalizedSlot)
	})
}

// TestCheckpointResume closes and reopens the store, simulating a node
// restart, and checks the checkpoint survives.
func TestCheckpointResume(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		store, err := pebblestorage.NewCheckpoints(dir)
		require.NoError(t, err)
		require.NoError(t, store.Store(&storage.Checkpoint{
			FinalizedSlot: 7,
			Proof:         *unittest.ProofFixture(t, 7),
		}))
		require.NoError(t, store.Close())

		reopened, err := pebblestorage.NewCheckpoints(dir)
		require.NoError(t, err)
		defer func() {
			require.NoError(t, reopened.Close())
		}()

		loaded, err := reopened.Latest()
		require.NoError(t, err)
		assert.Equal(t, pot.Slot(7), loaded.FinalizedSlot)
	})
}
