package timekeeper

import (
	"bytes"
	"sort"

	"github.com/timechain/timekeeper/consensus/timechain"
	"github.com/timechain/timekeeper/model/pot"
)

// forkTracker accumulates verified peer proofs that do not directly extend
// the canonical sequence into contiguous candidate runs. A run becomes a
// PeerChainView once its first slot attaches to the local sequence, at which
// point it is handed to the selector.
//
// The tracker is not safe for concurrent use; the acceptance worker owns it.
type forkTracker struct {
	maxRuns int
	runs    []*forkRun
}

type forkRun struct {
	first   pot.Slot
	entries []*timechain.Entry
}

func (r *forkRun) tip() *pot.Proof {
	return r.entries[len(r.entries)-1].Proof
}

func (r *forkRun) nextSlot() pot.Slot {
	return r.first + pot.Slot(len(r.entries))
}

func (r *forkRun) view() *timechain.PeerChainView {
	return &timechain.PeerChainView{
		DivergenceSlot: r.first,
		Entries:        r.entries,
	}
}

func newForkTracker(maxRuns int) *forkTracker {
	return &forkTracker{maxRuns: maxRuns}
}

// add incorporates a verified peer proof. The proof extends an existing run
// when its seed chains from the run's tip, or starts a new run otherwise.
// At entropy-injection slots the seed cannot be predicted locally, so slot
// contiguity alone suffices to extend.
func (t *forkTracker) add(proof *pot.Proof, injectionSlot bool) {
	for _, run := range t.runs {
		if run.nextSlot() != proof.SlotNumber {
			continue
		}
		if injectionSlot || proof.Seed == pot.NextSeed(run.tip().Output()) {
			run.entries = append(run.entries, &timechain.Entry{Proof: proof})
			return
		}
	}

	t.runs = append(t.runs, &forkRun{
		first:   proof.SlotNumber,
		entries: []*timechain.Entry{{Proof: proof}},
	})
	if len(t.runs) > t.maxRuns {
		t.evictShortest()
	}
}

// evictShortest drops the run with the lowest tip slot, i.e. the one least
// likely to ever win fork choice.
func (t *forkTracker) evictShortest() {
	lowest := 0
	for i, run := range t.runs {
		if run.tip().SlotNumber < t.runs[lowest].tip().SlotNumber {
			lowest = i
		}
	}
	t.runs = append(t.runs[:lowest], t.runs[lowest+1:]...)
}

// candidates returns all attachable runs, ordered for fork choice: highest
// tip first, then byte-wise lowest tip output. Every equal-tip run gets a
// chance at the tie-break rules, and the order is independent of arrival
// order.
func (t *forkTracker) candidates(seq *timechain.Sequence) []*forkRun {
	attachable := make([]*forkRun, 0, len(t.runs))
	for _, run := range t.runs {
		if attaches(seq, run) {
			attachable = append(attachable, run)
		}
	}
	sort.Slice(attachable, func(i, j int) bool {
		ti, tj := attachable[i].tip(), attachable[j].tip()
		if ti.SlotNumber != tj.SlotNumber {
			return ti.SlotNumber > tj.SlotNumber
		}
		oi, oj := ti.Output(), tj.Output()
		return bytes.Compare(oi[:], oj[:]) < 0
	})
	return attachable
}

// attaches reports whether the run's first entry chains from the local
// sequence at the slot before it. At injection slots the seed cannot be
// checked locally; coverage of the predecessor slot suffices.
func attaches(seq *timechain.Sequence, run *forkRun) bool {
	if run.first == 0 || !seq.Covers(run.first-1) {
		return false
	}
	if seq.IsInjectionSlot(run.first) {
		return true
	}
	expected, err := seq.ExpectedSeed(run.first, nil)
	if err != nil {
		return false
	}
	return run.entries[0].Proof.Seed == expected
}

// remove discards the given run, typically after it was adopted into the
// sequence or rejected by fork choice. Removal is by identity so that runs
// sharing a divergence slot are never confused.
func (t *forkTracker) remove(target *forkRun) {
	for i, run := range t.runs {
		if run == target {
			t.runs = append(t.runs[:i], t.runs[i+1:]...)
			return
		}
	}
}

// prune discards runs that can no longer win: anything whose tip is at or
// below the finalized slot.
func (t *forkTracker) prune(finalized pot.Slot) {
	kept := t.runs[:0]
	for _, run := range t.runs {
		if run.tip().SlotNumber > finalized {
			kept = append(kept, run)
		}
	}
	t.runs = kept
}
