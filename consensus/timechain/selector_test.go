package timechain_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timechain/timekeeper/consensus/timechain"
	"github.com/timechain/timekeeper/crypto/vdf"
	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/utils/unittest"
)

// stubAuditor reports a seed as traceable iff it was registered.
type stubAuditor struct {
	traced map[pot.Seed]bool
}

func newStubAuditor() *stubAuditor {
	return &stubAuditor{traced: make(map[pot.Seed]bool)}
}

func (a *stubAuditor) SeedTracesToChainState(_ pot.Slot, seed pot.Seed) bool {
	return a.traced[seed]
}

// forkFrom builds n verified fork entries starting at the given slot,
// chaining from prev and using a different iteration count than the
// fixtures so the fork's outputs differ from the canonical ones.
func forkFrom(t *testing.T, slot pot.Slot, prev pot.Output, n int) []*timechain.Entry {
	entries := make([]*timechain.Entry, 0, n)
	seed := pot.NextSeed(prev)
	for i := 0; i < n; i++ {
		proof, err := vdf.Prove(slot+pot.Slot(i), seed, 8)
		require.NoError(t, err)
		entries = append(entries, &timechain.Entry{Proof: proof})
		seed = pot.NextSeed(proof.Output())
	}
	return entries
}

func TestSelector_LongerSequenceWins(t *testing.T) {
	genesis := unittest.SeedFixture()
	seq, err := timechain.NewSequence(genesis, 1000, 100)
	require.NoError(t, err)
	proofs := unittest.ChainFixture(t, genesis, 4)
	appendChain(t, seq, proofs)

	selector := timechain.NewSelector(seq, newStubAuditor())

	// peer fork diverges at slot 3 and reaches slot 6: longer, wins
	longer := &timechain.PeerChainView{
		DivergenceSlot: 3,
		Entries:        forkFrom(t, 3, proofs[1].Output(), 4),
	}
	adopt, err := selector.Select(longer)
	require.NoError(t, err)
	assert.True(t, adopt)

	// peer fork reaching only slot 3: shorter, loses
	shorter := &timechain.PeerChainView{
		DivergenceSlot: 3,
		Entries:        forkFrom(t, 3, proofs[1].Output(), 1),
	}
	adopt, err = selector.Select(shorter)
	require.NoError(t, err)
	assert.False(t, adopt)
}

func TestSelector_RejectsReorgBeyondFinality(t *testing.T) {
	genesis := unittest.SeedFixture()
	seq, err := timechain.NewSequence(genesis, 1000, 1)
	require.NoError(t, err)
	proofs := unittest.ChainFixture(t, genesis, 4)
	appendChain(t, seq, proofs)
	require.Equal(t, pot.Slot(3), seq.FinalizedSlot())

	selector := timechain.NewSelector(seq, newStubAuditor())

	view := &timechain.PeerChainView{
		DivergenceSlot: 3,
		Entries:        forkFrom(t, 3, proofs[1].Output(), 10),
	}
	_, err = selector.Select(view)
	assert.ErrorIs(t, err, timechain.ErrReorgBeyondFinality)
}

func TestSelector_EntropyTraceBreaksTie(t *testing.T) {
	genesis := unittest.SeedFixture()
	seq, err := timechain.NewSequence(genesis, 2, 100)
	require.NoError(t, err)

	p1 := unittest.ProofFixtureWithSeed(t, 1, genesis)
	require.NoError(t, seq.Append(&timechain.Entry{Proof: p1}))
	entropy := unittest.EntropyFixture()
	seed2 := pot.NextSeedWithEntropy(p1.Output(), entropy)
	p2 := unittest.ProofFixtureWithSeed(t, 2, seed2)
	require.NoError(t, seq.Append(&timechain.Entry{Proof: p2, Entropy: &entropy}))

	// equal-length peer fork with a different seed at the injection slot
	peerEntropy := unittest.EntropyFixture()
	peerSeed := pot.NextSeedWithEntropy(p1.Output(), peerEntropy)
	peer2 := unittest.ProofFixtureWithSeed(t, 2, peerSeed)
	view := &timechain.PeerChainView{
		DivergenceSlot: 2,
		Entries:        []*timechain.Entry{{Proof: peer2}},
	}

	// only the local entropy traces to chain state: keep local
	auditor := newStubAuditor()
	auditor.traced[seed2] = true
	adopt, err := timechain.NewSelector(seq, auditor).Select(view)
	require.NoError(t, err)
	assert.False(t, adopt)

	// only the peer entropy traces to chain state: adopt the peer fork
	auditor = newStubAuditor()
	auditor.traced[peerSeed] = true
	adopt, err = timechain.NewSelector(seq, auditor).Select(view)
	require.NoError(t, err)
	assert.True(t, adopt)
}

func TestSelector_LowestOutputBreaksFullTie(t *testing.T) {
	genesis := unittest.SeedFixture()
	seq, err := timechain.NewSequence(genesis, 1000, 100)
	require.NoError(t, err)
	proofs := unittest.ChainFixture(t, genesis, 3)
	appendChain(t, seq, proofs)

	selector := timechain.NewSelector(seq, newStubAuditor())

	// equal-length fork with no injection slots: decided byte-wise on the
	// first differing output
	entries := forkFrom(t, 3, proofs[1].Output(), 1)
	view := &timechain.PeerChainView{DivergenceSlot: 3, Entries: entries}
	adopt, err := selector.Select(view)
	require.NoError(t, err)

	localOut := proofs[2].Output()
	peerOut := entries[0].Proof.Output()
	assert.Equal(t, bytes.Compare(peerOut[:], localOut[:]) < 0, adopt)
}

func TestSelector_KeepsLocalOnIdenticalView(t *testing.T) {
	genesis := unittest.SeedFixture()
	seq, err := timechain.NewSequence(genesis, 1000, 100)
	require.NoError(t, err)
	proofs := unittest.ChainFixture(t, genesis, 3)
	appendChain(t, seq, proofs)

	selector := timechain.NewSelector(seq, newStubAuditor())

	view := &timechain.PeerChainView{
		DivergenceSlot: 3,
		Entries:        []*timechain.Entry{{Proof: proofs[2]}},
	}
	adopt, err := selector.Select(view)
	require.NoError(t, err)
	assert.False(t, adopt)
}
