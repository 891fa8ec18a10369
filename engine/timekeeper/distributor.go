package timekeeper

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module"
)

// subscriptionBufferCapacity bounds each subscriber's delivery channel. A
// subscriber that falls further behind than this misses proofs rather than
// stalling the clock; missed slots can always be read back via TimeAt.
const subscriptionBufferCapacity = 64

// ProofDistributor fans canonical proofs out to subscribers. Delivery is
// strictly non-blocking from the engine's perspective.
type ProofDistributor struct {
	log    zerolog.Logger
	mu     sync.Mutex
	subs   map[*proofSubscription]struct{}
	closed bool
}

func NewProofDistributor(log zerolog.Logger) *ProofDistributor {
	return &ProofDistributor{
		log:  log.With().Str("component", "proof_distributor").Logger(),
		subs: make(map[*proofSubscription]struct{}),
	}
}

// Subscribe opens a new subscription delivering every proof published from
// now on. After Close, subscriptions are returned already-closed.
func (d *ProofDistributor) Subscribe() module.ProofSubscription {
	sub := &proofSubscription{
		distributor: d,
		ch:          make(chan *pot.Proof, subscriptionBufferCapacity),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(sub.ch)
		return sub
	}
	d.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the proof to all current subscribers. Subscribers whose
// buffer is full skip this proof.
func (d *ProofDistributor) Publish(proof *pot.Proof) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for sub := range d.subs {
		select {
		case sub.ch <- proof:
		default:
			d.log.Warn().
				Uint64("slot", uint64(proof.SlotNumber)).
				Msg("subscriber buffer full, dropping proof delivery")
		}
	}
}

// Close terminates all subscriptions. Subsequent Publish calls are no-ops.
func (d *ProofDistributor) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for sub := range d.subs {
		sub.closeCh()
		delete(d.subs, sub)
	}
}

type proofSubscription struct {
	distributor *ProofDistributor
	ch          chan *pot.Proof
	closeOnce   sync.Once
}

var _ module.ProofSubscription = (*proofSubscription)(nil)

func (s *proofSubscription) Ch() <-chan *pot.Proof {
	return s.ch
}

func (s *proofSubscription) Unsubscribe() {
	d := s.distributor
	d.mu.Lock()
	delete(d.subs, s)
	d.mu.Unlock()
	s.closeCh()
}

func (s *proofSubscription) closeCh() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
