// Package stdmap implements the memory pools with Go-map-backed storage.
package stdmap

import (
	"fmt"
	"sync"

	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module/mempool"
)

// Proofs implements mempool.Proofs with a mutex-guarded map keyed by slot
// number, plus an identity index for gossip deduplication. Once the
// configured capacity is exceeded, the lowest present slot is evicted.
type Proofs struct {
	sync.RWMutex
	limit  uint
	bySlot map[pot.Slot]*pot.Proof
	byID   map[pot.Identifier]pot.Slot
}

var _ mempool.Proofs = (*Proofs)(nil)

// NewProofs creates a proof pool with the given capacity.
func NewProofs(limit uint) (*Proofs, error) {
	if limit == 0 {
		return nil, fmt.Errorf("proof pool capacity must be positive")
	}
	return &Proofs{
		limit:  limit,
		bySlot: make(map[pot.Slot]*pot.Proof),
		byID:   make(map[pot.Identifier]pot.Slot),
	}, nil
}

// Add inserts the proof under its slot number; see mempool.Proofs.
func (p *Proofs) Add(proof *pot.Proof) error {
	p.Lock()
	defer p.Unlock()

	slot := proof.SlotNumber
	if existing, ok := p.bySlot[slot]; ok {
		if existing.ID() == proof.ID() {
			return nil // idempotent re-insert
		}
		return mempool.ErrConflictingProof
	}

	p.bySlot[slot] = proof
	p.byID[proof.ID()] = slot
	p.evictExcess()
	return nil
}

// ReplaceFrom removes all proofs at or above the given slot and inserts the
// replacements; see mempool.Proofs.
func (p *Proofs) ReplaceFrom(slot pot.Slot, proofs []*pot.Proof) error {
	p.Lock()
	defer p.Unlock()

	for s, existing := range p.bySlot {
		if s >= slot {
			delete(p.byID, existing.ID())
			delete(p.bySlot, s)
		}
	}
	for _, proof := range proofs {
		if proof.SlotNumber < slot {
			return fmt.Errorf("replacement proof for slot %d below replacement point %d", proof.SlotNumber, slot)
		}
		p.bySlot[proof.SlotNumber] = proof
		p.byID[proof.ID()] = proof.SlotNumber
	}
	p.evictExcess()
	return nil
}

// evictExcess removes the lowest slots until the pool is within capacity.
// Caller must hold the write lock.
func (p *Proofs) evictExcess() {
	for uint(len(p.bySlot)) > p.limit {
		lowest, ok := p.lowestSlot()
		if !ok {
			return
		}
		evicted := p.bySlot[lowest]
		delete(p.byID, evicted.ID())
		delete(p.bySlot, lowest)
	}
}

// lowestSlot scans for the minimum present slot. Caller must hold at least
// the read lock.
func (p *Proofs) lowestSlot() (pot.Slot, bool) {
	if len(p.bySlot) == 0 {
		return 0, false
	}
	first := true
	var lowest pot.Slot
	for slot := range p.bySlot {
		if first || slot < lowest {
			lowest = slot
			first = false
		}
	}
	return lowest, true
}

// BySlot returns the proof stored for the given slot, if present.
func (p *Proofs) BySlot(slot pot.Slot) (*pot.Proof, bool) {
	p.RLock()
	defer p.RUnlock()
	proof, ok := p.bySlot[slot]
	return proof, ok
}

// Has returns whether a proof with the given identity is in the pool.
func (p *Proofs) Has(id pot.Identifier) bool {
	p.RLock()
	defer p.RUnlock()
	_, ok := p.byID[id]
	return ok
}

// Size returns the number of proofs in the pool.
func (p *Proofs) Size() uint {
	p.RLock()
	defer p.RUnlock()
	return uint(len(p.bySlot))
}

// Limit returns the pool's capacity.
func (p *Proofs) Limit() uint {
	return p.limit
}

// LowestSlot returns the lowest slot currently present.
func (p *Proofs) LowestSlot() (pot.Slot, bool) {
	p.RLock()
	defer p.RUnlock()
	return p.lowestSlot()
}
