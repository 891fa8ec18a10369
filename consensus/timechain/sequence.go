// Package timechain maintains the canonical proof-of-time sequence and
// implements fork choice between the local sequence and candidate peer
// sequences.
//
// The sequence is an append-only, slot-indexed structure rather than a
// pointer chain: every slot maps to exactly one proof, the seed of each slot
// is derived from the output of the previous one, and random access is O(1)
// for verification and eviction. The sequence is mutated only through a
// single serialization point owned by the clock engine (single-writer
// discipline).
package timechain

import (
	"fmt"
	"sync"

	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module/counters"
)

// Entry is one slot of the canonical sequence: the proof plus the
// entropy-injection bookkeeping that is not part of proof identity.
type Entry struct {
	Proof *pot.Proof

	// Entropy is the entropy value mixed into this slot's seed. It is nil
	// for non-injection slots, and for peer-adopted injection slots whose
	// entropy value is not known locally (its validity is then delegated to
	// the consensus-layer auditor).
	Entropy *pot.Entropy

	// StaleEntropy marks locally produced injection slots where the
	// injection deadline was missed and the previous entropy value was
	// reused. Observable for audit; not fatal, and not part of identity.
	StaleEntropy bool
}

// Sequence is the canonical proof sequence. It is rooted either at genesis
// (slot 0, a bare seed) or, after a restart, at a previously finalized
// proof. All methods are safe for concurrent use; writes additionally go
// through the engine's serialization point.
type Sequence struct {
	mu sync.RWMutex

	genesisSeed pot.Seed
	rootSlot    pot.Slot
	rootProof   *pot.Proof // nil iff rooted at genesis
	entries     []*Entry   // entries[i] holds slot rootSlot+1+i

	injectionInterval uint64
	finalityDepth     uint64
	finalized         counters.StrictMonotonicCounter
}

// NewSequence creates a sequence rooted at genesis. Entropy is injected
// every injectionInterval slots; slots deeper than finalityDepth below the
// head are immutable.
func NewSequence(genesisSeed pot.Seed, injectionInterval uint64, finalityDepth uint64) (*Sequence, error) {
	if injectionInterval == 0 {
		return nil, fmt.Errorf("injection interval must be positive")
	}
	return &Sequence{
		genesisSeed:       genesisSeed,
		injectionInterval: injectionInterval,
		finalityDepth:     finalityDepth,
		finalized:         counters.NewMonotonicCounter(0),
	}, nil
}

// NewSequenceFromRoot creates a sequence resuming from a finalized proof,
// e.g. after a node restart. The root proof is immutable and serves as the
// chaining anchor for the next slot.
func NewSequenceFromRoot(root *pot.Proof, injectionInterval uint64, finalityDepth uint64) (*Sequence, error) {
	if injectionInterval == 0 {
		return nil, fmt.Errorf("injection interval must be positive")
	}
	if err := root.CheckStructure(); err != nil {
		return nil, fmt.Errorf("invalid root proof: %w", err)
	}
	return &Sequence{
		rootSlot:          root.SlotNumber,
		rootProof:         root,
		injectionInterval: injectionInterval,
		finalityDepth:     finalityDepth,
		finalized:         counters.NewMonotonicCounter(uint64(root.SlotNumber)),
	}, nil
}

// Head returns the highest slot in the sequence (the root slot if empty).
func (s *Sequence) Head() pot.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head()
}

func (s *Sequence) head() pot.Slot {
	return s.rootSlot + pot.Slot(len(s.entries))
}

// NextSlot returns the slot the next proof must cover.
func (s *Sequence) NextSlot() pot.Slot {
	return s.Head() + 1
}

// FinalizedSlot returns the highest finalized slot. Slots at or below it
// are never replaced.
func (s *Sequence) FinalizedSlot() pot.Slot {
	return pot.Slot(s.finalized.Value())
}

// IsInjectionSlot returns whether external entropy must be mixed into the
// seed at the given slot. Injection points are scheduled at a fixed
// interval and are never retroactively movable.
func (s *Sequence) IsInjectionSlot(slot pot.Slot) bool {
	return slot > 0 && uint64(slot)%s.injectionInterval == 0
}

// NextSeed derives the seed for the next slot. For injection slots the
// caller must supply the entropy value; for all other slots entropy must be
// nil.
func (s *Sequence) NextSeed(entropy *pot.Entropy) (pot.Seed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seedForSlot(s.head()+1, entropy)
}

// seedForSlot computes the expected seed for the given slot from the output
// of its predecessor. Caller must hold at least the read lock, and slot must
// be within (rootSlot, head+1].
func (s *Sequence) seedForSlot(slot pot.Slot, entropy *pot.Entropy) (pot.Seed, error) {
	injection := s.IsInjectionSlot(slot)
	if injection && entropy == nil {
		return pot.Seed{}, fmt.Errorf("slot %d is an injection slot but no entropy was supplied", slot)
	}
	if !injection && entropy != nil {
		return pot.Seed{}, fmt.Errorf("slot %d is not an injection slot but entropy was supplied", slot)
	}

	// the first slot after a genesis root has no predecessor output
	if slot == 1 && s.rootProof == nil {
		return s.genesisSeed, nil
	}

	prev, err := s.outputAt(slot - 1)
	if err != nil {
		return pot.Seed{}, fmt.Errorf("could not get predecessor output for slot %d: %w", slot, err)
	}
	if injection {
		return pot.NextSeedWithEntropy(prev, *entropy), nil
	}
	return pot.NextSeed(prev), nil
}

// Append appends the entry for the next slot. The proof must already be
// verified; Append only enforces continuation: the slot number must be
// head+1 and the seed must chain from the previous output. At injection
// slots, a nil Entropy means the entropy value is unknown locally (peer
// origin) and the claimed seed is accepted; its validity is audited by the
// consensus layer during fork choice.
//
// Error returns: ErrNonContiguous (benign, candidate does not continue the
// sequence); generic errors are exceptions.
func (s *Sequence) Append(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.head() + 1
	if entry.Proof.SlotNumber != next {
		return fmt.Errorf("%w: got slot %d, expected %d", ErrNonContiguous, entry.Proof.SlotNumber, next)
	}
	if err := s.checkChaining(entry); err != nil {
		return err
	}

	s.entries = append(s.entries, entry)
	s.advanceFinality()
	return nil
}

// checkChaining verifies that the entry's seed continues the chain. Caller
// must hold the write lock and the entry's slot must be head+1.
func (s *Sequence) checkChaining(entry *Entry) error {
	slot := entry.Proof.SlotNumber
	if s.IsInjectionSlot(slot) && entry.Entropy == nil {
		// entropy unknown locally; claimed seed accepted, auditor decides
		return nil
	}
	expected, err := s.seedForSlot(slot, entry.Entropy)
	if err != nil {
		return err
	}
	if entry.Proof.Seed != expected {
		return fmt.Errorf("%w: seed for slot %d does not chain from previous output", ErrNonContiguous, slot)
	}
	return nil
}

// advanceFinality moves the finalized counter to head - finalityDepth.
// Caller must hold the write lock.
func (s *Sequence) advanceFinality() {
	head := uint64(s.head())
	if head > s.finalityDepth {
		s.finalized.Set(head - s.finalityDepth)
	}
}

// ReplaceSuffix replaces all entries from the given slot onward with the
// candidate entries, which must themselves be contiguous and chain from the
// output of slot from-1. Used by fork choice to adopt a winning peer
// sequence.
//
// Error returns: ErrReorgBeyondFinality if from is at or below the
// finalized slot; ErrNonContiguous if the candidate entries do not form a
// valid continuation.
func (s *Sequence) ReplaceSuffix(from pot.Slot, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from <= pot.Slot(s.finalized.Value()) {
		return fmt.Errorf("%w: divergence at slot %d, finalized %d", ErrReorgBeyondFinality, from, s.finalized.Value())
	}
	if from > s.head()+1 {
		return fmt.Errorf("%w: replacement at slot %d would leave a gap (head %d)", ErrNonContiguous, from, s.head())
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty replacement suffix", ErrNonContiguous)
	}

	expectSlot := from
	for i, entry := range entries {
		if entry.Proof.SlotNumber != expectSlot {
			return fmt.Errorf("%w: replacement entry %d has slot %d, expected %d", ErrNonContiguous, i, entry.Proof.SlotNumber, expectSlot)
		}
		expectSlot++
	}

	// chain check entry-by-entry on a scratch copy, so a failure partway
	// through leaves the sequence untouched
	scratch := &Sequence{
		genesisSeed:       s.genesisSeed,
		rootSlot:          s.rootSlot,
		rootProof:         s.rootProof,
		entries:           append([]*Entry{}, s.entries[:from-s.rootSlot-1]...),
		injectionInterval: s.injectionInterval,
		finalityDepth:     s.finalityDepth,
		finalized:         counters.NewMonotonicCounter(s.finalized.Value()),
	}
	for _, entry := range entries {
		if err := scratch.checkChaining(entry); err != nil {
			return err
		}
		scratch.entries = append(scratch.entries, entry)
	}

	s.entries = scratch.entries
	s.advanceFinality()
	return nil
}

// TimeAt returns the canonical proof for the given slot.
//
// Error returns: ErrNotYetProduced for slots beyond the head; ErrBelowRoot
// for slots below the in-memory root.
func (s *Sequence) TimeAt(slot pot.Slot) (*pot.Proof, error) {
	entry, err := s.EntryAt(slot)
	if err != nil {
		return nil, err
	}
	return entry.Proof, nil
}

// EntryAt returns the full entry for the given slot, including the
// entropy-injection audit flags. Same error returns as TimeAt.
func (s *Sequence) EntryAt(slot pot.Slot) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if slot > s.head() {
		return nil, ErrNotYetProduced
	}
	if slot <= s.rootSlot {
		if slot == s.rootSlot && s.rootProof != nil {
			return &Entry{Proof: s.rootProof}, nil
		}
		return nil, ErrBelowRoot
	}
	return s.entries[slot-s.rootSlot-1], nil
}

// EntropyAt returns the entropy injected at the given slot, or nil when the
// slot is not an injection slot or the value is unknown locally (peer
// origin). Same error returns as TimeAt.
func (s *Sequence) EntropyAt(slot pot.Slot) (*pot.Entropy, error) {
	entry, err := s.EntryAt(slot)
	if err != nil {
		return nil, err
	}
	return entry.Entropy, nil
}

// OutputAt returns the output of the proof at the given slot. Same error
// returns as TimeAt.
func (s *Sequence) OutputAt(slot pot.Slot) (pot.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputAt(slot)
}

func (s *Sequence) outputAt(slot pot.Slot) (pot.Output, error) {
	if slot > s.head() {
		return pot.Output{}, ErrNotYetProduced
	}
	if slot <= s.rootSlot {
		if slot == s.rootSlot && s.rootProof != nil {
			return s.rootProof.Output(), nil
		}
		return pot.Output{}, ErrBelowRoot
	}
	return s.entries[slot-s.rootSlot-1].Proof.Output(), nil
}

// Covers reports whether the sequence holds state for the given slot. The
// root slot counts as covered: it anchors the chain even when rooted at
// genesis, where no proof exists for it.
func (s *Sequence) Covers(slot pot.Slot) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slot >= s.rootSlot && slot <= s.head()
}

// ExpectedSeed returns the seed a proof at the given slot must carry to
// chain from the local sequence. The slot must be within (root, head+1];
// injection slots require the entropy value.
func (s *Sequence) ExpectedSeed(slot pot.Slot, entropy *pot.Entropy) (pot.Seed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if slot > s.head()+1 {
		return pot.Seed{}, ErrNotYetProduced
	}
	if slot <= s.rootSlot {
		return pot.Seed{}, ErrBelowRoot
	}
	return s.seedForSlot(slot, entropy)
}

// SeedAt returns the seed of the proof at the given slot, used by the
// selector's entropy-trace comparison. Same error returns as TimeAt.
func (s *Sequence) SeedAt(slot pot.Slot) (pot.Seed, error) {
	proof, err := s.TimeAt(slot)
	if err != nil {
		return pot.Seed{}, err
	}
	return proof.Seed, nil
}
