package timekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timechain/timekeeper/consensus/timechain"
	"github.com/timechain/timekeeper/crypto/vdf"
	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module/irrecoverable"
	"github.com/timechain/timekeeper/module/mempool/stdmap"
	"github.com/timechain/timekeeper/module/metrics"
	"github.com/timechain/timekeeper/storage"
	"github.com/timechain/timekeeper/utils/unittest"
)

type staticEntropy struct{}

func (staticEntropy) CurrentInjectableEntropy(context.Context) (pot.Entropy, error) {
	return pot.Entropy{}, nil
}

type permissiveAuditor struct{}

func (permissiveAuditor) SeedTracesToChainState(pot.Slot, pot.Seed) bool { return true }

type discardCheckpoints struct{}

func (discardCheckpoints) Store(*storage.Checkpoint) error { return nil }

func (discardCheckpoints) Latest() (*storage.Checkpoint, error) {
	return nil, storage.ErrNotFound
}

// A miscomputed local proof must never reach the sequence: production
// re-verifies its own result and escalates a mismatch as irrecoverable.
func TestProduceNext_SelfVerification(t *testing.T) {
	seq, err := timechain.NewSequence(unittest.SeedFixture(), 1_000_000, 100)
	require.NoError(t, err)
	cache, err := stdmap.NewProofs(10)
	require.NoError(t, err)

	e, err := New(
		unittest.Logger(t),
		metrics.NewNoopCollector(),
		metrics.NewNoopCollector(),
		Config{SlotIterations: unittest.FixtureIterations},
		seq,
		cache,
		discardCheckpoints{},
		staticEntropy{},
		permissiveAuditor{},
		nil,
	)
	require.NoError(t, err)

	// corrupt the delay-function result after it is computed
	e.prove = func(slot pot.Slot, seed pot.Seed, iterations uint64) (*pot.Proof, error) {
		proof, err := vdf.Prove(slot, seed, iterations)
		if err != nil {
			return nil, err
		}
		proof.Checkpoints[2][0] ^= 0x01
		return proof, nil
	}

	sctx, errChan := irrecoverable.WithSignaler(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.produceNext(sctx)
	}()

	select {
	case err := <-errChan:
		require.True(t, IsProductionFailureError(err), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("corrupted proof did not surface as an irrecoverable error")
	}
	unittest.RequireCloseBefore(t, done, time.Second, "production call did not return")

	// the corrupted proof was not appended
	require.Equal(t, pot.Slot(0), seq.Head())
}
