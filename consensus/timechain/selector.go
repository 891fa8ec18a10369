package timechain

import (
	"bytes"
	"fmt"

	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module"
)

// PeerChainView is a contiguous run of already-verified peer entries that
// forks off the local sequence. DivergenceSlot is the first slot at which
// the view differs from the local sequence; Entries covers slots
// [DivergenceSlot, DivergenceSlot+len(Entries)).
type PeerChainView struct {
	DivergenceSlot pot.Slot
	Entries        []*Entry
}

// Head returns the highest slot covered by the view.
func (v *PeerChainView) Head() pot.Slot {
	return v.DivergenceSlot + pot.Slot(len(v.Entries)) - 1
}

// entryAt returns the view entry for the given slot, or nil if the slot is
// outside the view.
func (v *PeerChainView) entryAt(slot pot.Slot) *Entry {
	if slot < v.DivergenceSlot || slot > v.Head() {
		return nil
	}
	return v.Entries[slot-v.DivergenceSlot]
}

// Selector implements fork choice between the local sequence and candidate
// peer views. All rules operate on proofs that were already
// cryptographically verified upstream; the selector only orders them.
type Selector struct {
	seq     *Sequence
	auditor module.EntropyAuditor
}

// NewSelector creates a fork-choice selector over the given sequence. The
// auditor is consulted to break length ties by checking which fork's
// injected entropy traces back to recorded chain state.
func NewSelector(seq *Sequence, auditor module.EntropyAuditor) *Selector {
	return &Selector{seq: seq, auditor: auditor}
}

// Select decides whether the candidate peer view should replace the local
// suffix from the divergence slot onward. It returns true if the candidate
// wins, in which case the caller applies it via Sequence.ReplaceSuffix.
//
// Rules, in order:
//  1. a reorg at or below the finalized slot is rejected outright
//  2. the longer verified sequence wins
//  3. at equal length, the fork whose injected entropy traces back to
//     recorded chain state wins
//  4. at a full tie, the fork with the byte-wise lowest output from the
//     divergence slot onward wins; the local sequence is kept on a
//     complete tie
//
// Error returns: ErrReorgBeyondFinality (benign, candidate rejected);
// generic errors are exceptions.
func (s *Selector) Select(view *PeerChainView) (bool, error) {
	if len(view.Entries) == 0 {
		return false, fmt.Errorf("empty peer view")
	}
	if view.DivergenceSlot <= s.seq.FinalizedSlot() {
		return false, fmt.Errorf("%w: divergence at slot %d, finalized %d",
			ErrReorgBeyondFinality, view.DivergenceSlot, s.seq.FinalizedSlot())
	}

	localHead := s.seq.Head()
	peerHead := view.Head()
	if peerHead != localHead {
		return peerHead > localHead, nil
	}

	traced, decided := s.compareEntropyTraces(view)
	if decided {
		return traced, nil
	}
	return s.compareOutputs(view)
}

// compareEntropyTraces applies rule 3: over the divergent suffix, check
// each injection slot's seed against recorded chain state. The fork with a
// traceable seed at the earliest differing injection slot wins. Returns
// decided=false when no injection slot discriminates between the forks.
func (s *Selector) compareEntropyTraces(view *PeerChainView) (peerWins bool, decided bool) {
	for slot := view.DivergenceSlot; slot <= view.Head(); slot++ {
		if !s.seq.IsInjectionSlot(slot) {
			continue
		}
		peer := view.entryAt(slot)
		localSeed, err := s.seq.SeedAt(slot)
		if err != nil {
			// local sequence does not cover this slot; nothing to compare
			return false, false
		}
		localTraced := s.auditor.SeedTracesToChainState(slot, localSeed)
		peerTraced := s.auditor.SeedTracesToChainState(slot, peer.Proof.Seed)
		if localTraced != peerTraced {
			return peerTraced, true
		}
	}
	return false, false
}

// compareOutputs applies rule 4: walk from the divergence slot and prefer
// the fork with the byte-wise lowest output at the first slot where the
// outputs differ. Local wins a complete tie, keeping the decision
// deterministic across the network.
func (s *Selector) compareOutputs(view *PeerChainView) (bool, error) {
	for slot := view.DivergenceSlot; slot <= view.Head(); slot++ {
		localOut, err := s.seq.OutputAt(slot)
		if err != nil {
			return false, fmt.Errorf("could not get local output at slot %d: %w", slot, err)
		}
		peerOut := view.entryAt(slot).Proof.Output()
		if cmp := bytes.Compare(peerOut[:], localOut[:]); cmp != 0 {
			return cmp < 0, nil
		}
	}
	return false, nil
}
