// Package timekeeper implements the clock engine: the single writer of the
// canonical proof-of-time sequence. One pinned worker grinds the delay
// function over the current seed; a second worker folds in verified peer
// proofs arriving from the gossip relay. Both mutate the sequence under one
// mutex, so every consumer observes a single consistent clock.
package timekeeper

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/timechain/timekeeper/consensus/timechain"
	"github.com/timechain/timekeeper/crypto/vdf"
	"github.com/timechain/timekeeper/engine"
	"github.com/timechain/timekeeper/engine/common/fifoqueue"
	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module"
	"github.com/timechain/timekeeper/module/component"
	"github.com/timechain/timekeeper/module/irrecoverable"
	"github.com/timechain/timekeeper/module/mempool"
	"github.com/timechain/timekeeper/storage"
)

const (
	defaultEntropyWaitTimeout        = 500 * time.Millisecond
	defaultPendingProofQueueCapacity = 100
	defaultMaxTrackedForks           = 16
)

// Config holds the tunable parameters of the clock engine. Zero values are
// replaced by defaults, except SlotIterations which must be set explicitly.
type Config struct {
	// SlotIterations is the initial number of delay-function iterations per
	// slot. Must be a positive multiple of pot.NumCheckpoints.
	SlotIterations uint64

	// EntropyWaitTimeout bounds how long production waits for injectable
	// entropy at an injection slot before reusing the previous value.
	EntropyWaitTimeout time.Duration

	// PendingProofQueueCapacity bounds the inbound queue of verified peer
	// proofs awaiting incorporation.
	PendingProofQueueCapacity uint

	// MaxTrackedForks bounds how many candidate peer forks are tracked
	// concurrently.
	MaxTrackedForks int
}

// Engine is the clock engine. It implements module.Timekeeper for
// consumers, and is the sink for verified peer proofs handed over by the
// gossip relay.
type Engine struct {
	*component.ComponentManager

	log     zerolog.Logger
	cfg     Config
	metrics module.TimekeeperMetrics

	// mu serializes all sequence mutation between the production loop and
	// the acceptance worker
	mu       sync.Mutex
	seq      *timechain.Sequence
	selector *timechain.Selector
	forks    *forkTracker

	cache       mempool.Proofs
	checkpoints storage.Checkpoints
	entropy     module.EntropyProvider
	target      module.IterationsTargetProvider
	broadcaster module.ProofBroadcaster
	distributor *ProofDistributor

	// prove runs the delay function; a field so tests can inject faults
	prove func(slot pot.Slot, seed pot.Seed, iterations uint64) (*pot.Proof, error)

	pendingProofs   *fifoqueue.FifoQueue
	pendingNotifier engine.Notifier

	// slotIterations is the value production reads at each slot boundary;
	// pendingIterations receives retarget requests and is folded in at the
	// boundary so a running slot is never affected
	slotIterations    *atomic.Uint64
	pendingIterations *atomic.Uint64

	// entropy bookkeeping for stale-injection fallback and checkpointing;
	// guarded by mu
	lastEntropy    pot.Entropy
	persistedFinal pot.Slot
}

var _ module.Timekeeper = (*Engine)(nil)
var _ component.Component = (*Engine)(nil)

// New creates a clock engine over the given sequence. The sequence carries
// the injection schedule and finality depth; it may be freshly created at
// genesis or resumed from a persisted checkpoint. The iterations target
// provider may be nil, in which case retargeting happens only through
// SetSlotIterations.
func New(
	log zerolog.Logger,
	engineMetrics module.TimekeeperMetrics,
	mempoolMetrics module.MempoolMetrics,
	cfg Config,
	seq *timechain.Sequence,
	cache mempool.Proofs,
	checkpoints storage.Checkpoints,
	entropy module.EntropyProvider,
	auditor module.EntropyAuditor,
	target module.IterationsTargetProvider,
) (*Engine, error) {
	if err := validateIterations(cfg.SlotIterations); err != nil {
		return nil, fmt.Errorf("invalid initial slot iterations: %w", err)
	}
	if cfg.EntropyWaitTimeout <= 0 {
		cfg.EntropyWaitTimeout = defaultEntropyWaitTimeout
	}
	if cfg.PendingProofQueueCapacity == 0 {
		cfg.PendingProofQueueCapacity = defaultPendingProofQueueCapacity
	}
	if cfg.MaxTrackedForks == 0 {
		cfg.MaxTrackedForks = defaultMaxTrackedForks
	}

	pendingProofs, err := fifoqueue.NewFifoQueue(
		fifoqueue.WithCapacity(int(cfg.PendingProofQueueCapacity)),
		fifoqueue.WithLengthObserver(func(len int) {
			mempoolMetrics.MempoolEntries("pending_proofs", uint(len))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create pending proof queue: %w", err)
	}

	e := &Engine{
		log:               log.With().Str("engine", "timekeeper").Logger(),
		cfg:               cfg,
		metrics:           engineMetrics,
		seq:               seq,
		forks:             newForkTracker(cfg.MaxTrackedForks),
		cache:             cache,
		checkpoints:       checkpoints,
		entropy:           entropy,
		target:            target,
		distributor:       NewProofDistributor(log),
		prove:             vdf.Prove,
		pendingProofs:     pendingProofs,
		pendingNotifier:   engine.NewNotifier(),
		slotIterations:    atomic.NewUint64(cfg.SlotIterations),
		pendingIterations: atomic.NewUint64(cfg.SlotIterations),
		persistedFinal:    seq.FinalizedSlot(),
	}
	e.selector = timechain.NewSelector(seq, auditor)

	e.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(e.productionLoop).
		AddWorker(e.acceptanceLoop).
		AddWorker(e.shutdownDistributor).
		Build()

	return e, nil
}

// NewFromCheckpoint creates a clock engine resuming from the latest
// persisted checkpoint: the sequence is rooted at the checkpointed finalized
// proof and the last injected entropy value is restored, so a missed
// injection deadline right after a restart falls back to the same value it
// would have before the restart. When no checkpoint exists the engine starts
// from a fresh genesis sequence.
func NewFromCheckpoint(
	log zerolog.Logger,
	engineMetrics module.TimekeeperMetrics,
	mempoolMetrics module.MempoolMetrics,
	cfg Config,
	genesisSeed pot.Seed,
	injectionInterval uint64,
	finalityDepth uint64,
	cache mempool.Proofs,
	checkpoints storage.Checkpoints,
	entropy module.EntropyProvider,
	auditor module.EntropyAuditor,
	target module.IterationsTargetProvider,
) (*Engine, error) {
	checkpoint, err := checkpoints.Latest()
	if errors.Is(err, storage.ErrNotFound) {
		seq, err := timechain.NewSequence(genesisSeed, injectionInterval, finalityDepth)
		if err != nil {
			return nil, fmt.Errorf("could not create genesis sequence: %w", err)
		}
		return New(log, engineMetrics, mempoolMetrics, cfg, seq, cache, checkpoints, entropy, auditor, target)
	}
	if err != nil {
		return nil, fmt.Errorf("could not load latest checkpoint: %w", err)
	}

	seq, err := timechain.NewSequenceFromRoot(&checkpoint.Proof, injectionInterval, finalityDepth)
	if err != nil {
		return nil, fmt.Errorf("could not resume sequence from checkpoint at slot %d: %w", checkpoint.FinalizedSlot, err)
	}
	e, err := New(log, engineMetrics, mempoolMetrics, cfg, seq, cache, checkpoints, entropy, auditor, target)
	if err != nil {
		return nil, err
	}
	e.lastEntropy = checkpoint.LastEntropy
	return e, nil
}

// WithBroadcaster wires the gossip relay in for announcing locally produced
// proofs. Must be called before Start.
func (e *Engine) WithBroadcaster(broadcaster module.ProofBroadcaster) *Engine {
	e.broadcaster = broadcaster
	return e
}

// TimeAt returns the canonical proof for the given slot.
func (e *Engine) TimeAt(slot pot.Slot) (*pot.Proof, error) {
	return e.seq.TimeAt(slot)
}

// SubscribeProofs opens a push feed of canonical proofs.
func (e *Engine) SubscribeProofs() module.ProofSubscription {
	return e.distributor.Subscribe()
}

// SetSlotIterations retargets the per-slot iteration count. The new value
// takes effect at the next slot boundary; the slot currently being ground
// is unaffected.
//
// Error returns: engine.InvalidInputError if the value is not a positive
// multiple of pot.NumCheckpoints.
func (e *Engine) SetSlotIterations(iterations uint64) error {
	if err := validateIterations(iterations); err != nil {
		return err
	}
	e.pendingIterations.Store(iterations)
	return nil
}

// SubmitProof hands a verified peer proof to the acceptance worker. It
// never blocks; when the pending queue is full the proof is dropped and
// will be re-learned from gossip.
func (e *Engine) SubmitProof(proof *pot.Proof) {
	if e.pendingProofs.Push(proof) {
		e.pendingNotifier.Notify()
		return
	}
	e.log.Warn().
		Uint64("slot", uint64(proof.SlotNumber)).
		Msg("pending proof queue full, dropping peer proof")
}

func validateIterations(iterations uint64) error {
	if iterations == 0 || iterations%pot.NumCheckpoints != 0 {
		return engine.NewInvalidInputErrorf(
			"slot iterations must be a positive multiple of %d, got %d", pot.NumCheckpoints, iterations)
	}
	return nil
}

// productionLoop grinds the delay function slot after slot. The goroutine
// is pinned to its OS thread to keep the sequential computation's timing
// stable under scheduler pressure. Shutdown is honored at slot boundaries
// only; a slot in progress always runs to completion.
func (e *Engine) productionLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	ready()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.produceNext(ctx)
	}
}

func (e *Engine) produceNext(ctx irrecoverable.SignalerContext) {
	slot := e.seq.NextSlot()
	e.applyRetarget()
	iterations := e.slotIterations.Load()

	var entropy *pot.Entropy
	var stale bool
	if e.seq.IsInjectionSlot(slot) {
		entropy, stale = e.fetchEntropy(ctx, slot)
		if entropy == nil {
			return
		}
	}

	seed, err := e.seq.NextSeed(entropy)
	if err != nil {
		// the head moved while we were fetching entropy; retry next pass
		e.log.Debug().Err(err).Uint64("slot", uint64(slot)).Msg("seed derivation raced with acceptance, retrying")
		return
	}

	start := time.Now()
	proof, err := e.prove(slot, seed, iterations)
	if err != nil {
		ctx.Throw(NewProductionFailureErrorf(slot, "delay function failed: %w", err))
		return
	}
	// sanity self-check before the proof can reach the sequence or peers: a
	// miscomputed chain (bit flips, a broken prover) must surface here
	if err := vdf.Verify(proof); err != nil {
		ctx.Throw(NewProductionFailureErrorf(slot, "produced proof failed self-verification: %w", err))
		return
	}
	elapsed := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seq.NextSlot() != slot {
		// a peer proof filled this slot while we were grinding
		e.log.Debug().Uint64("slot", uint64(slot)).Msg("slot already filled by peer proof, discarding local result")
		return
	}
	err = e.seq.Append(&timechain.Entry{Proof: proof, Entropy: entropy, StaleEntropy: stale})
	if err != nil {
		if errors.Is(err, timechain.ErrNonContiguous) {
			e.log.Debug().Err(err).Uint64("slot", uint64(slot)).Msg("local proof no longer continues the sequence, discarding")
			return
		}
		ctx.Throw(fmt.Errorf("could not append locally produced proof at slot %d: %w", slot, err))
		return
	}

	if entropy != nil {
		e.lastEntropy = *entropy
		e.metrics.EntropyInjected(slot, stale)
	}
	e.metrics.SlotProduced(slot, elapsed)
	e.log.Debug().
		Uint64("slot", uint64(slot)).
		Uint64("iterations", iterations).
		Dur("elapsed", elapsed).
		Msg("slot produced")

	e.finishAppend(ctx, proof, true)
}

// applyRetarget folds pending retarget requests in at a slot boundary. When
// an iterations target provider is wired, its target takes precedence over
// values set via SetSlotIterations.
func (e *Engine) applyRetarget() {
	if e.target != nil {
		if t := e.target.SlotIterationsTarget(); t != 0 {
			if err := validateIterations(t); err != nil {
				e.log.Warn().Err(err).Uint64("target", t).Msg("ignoring invalid iterations target")
			} else {
				e.pendingIterations.Store(t)
			}
		}
	}
	target := e.pendingIterations.Load()
	if target != e.slotIterations.Load() {
		e.slotIterations.Store(target)
		e.metrics.Retargeted(target)
		e.log.Info().Uint64("iterations", target).Msg("slot iterations retargeted")
	}
}

// fetchEntropy obtains the entropy for an injection slot within the
// configured deadline. On deadline miss the previous entropy value is
// reused so the clock never stalls; the reuse is recorded on the entry for
// later audit. Returns nil when shutdown interrupted the wait.
func (e *Engine) fetchEntropy(ctx context.Context, slot pot.Slot) (*pot.Entropy, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.EntropyWaitTimeout)
	defer cancel()

	entropy, err := e.entropy.CurrentInjectableEntropy(fetchCtx)
	if err == nil {
		return &entropy, false
	}
	if ctx.Err() != nil {
		return nil, false
	}

	e.log.Warn().Err(err).
		Uint64("slot", uint64(slot)).
		Msg("entropy not available within deadline, reusing previous value")
	stale := e.lastEntropy
	return &stale, true
}

// acceptanceLoop incorporates verified peer proofs queued by SubmitProof.
func (e *Engine) acceptanceLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.pendingNotifier.Channel():
			e.processPending(ctx)
		}
	}
}

func (e *Engine) processPending(ctx irrecoverable.SignalerContext) {
	for {
		msg, ok := e.pendingProofs.Pop()
		if !ok {
			return
		}
		e.onPeerProof(ctx, msg.(*pot.Proof))
	}
}

func (e *Engine) onPeerProof(ctx irrecoverable.SignalerContext, proof *pot.Proof) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// fast path: the proof directly extends the sequence
	if proof.SlotNumber == e.seq.NextSlot() {
		err := e.seq.Append(&timechain.Entry{Proof: proof})
		if err == nil {
			e.log.Debug().Uint64("slot", uint64(proof.SlotNumber)).Msg("peer proof extends sequence")
			e.finishAppend(ctx, proof, false)
			return
		}
		if !errors.Is(err, timechain.ErrNonContiguous) {
			ctx.Throw(fmt.Errorf("could not append peer proof at slot %d: %w", proof.SlotNumber, err))
			return
		}
		// seed does not chain: a fork at the tip, tracked below
	}

	e.forks.add(proof, e.seq.IsInjectionSlot(proof.SlotNumber))
	e.tryAdoptFork(ctx)
}

// tryAdoptFork runs fork choice over the tracked candidate runs, applying
// winners until none remains. Every attachable run is evaluated, so a run
// that would win only on a tie-break rule is not shadowed by an equal-tip
// sibling that loses. Adopting a fork can make further runs attach, hence
// the outer loop. Caller must hold e.mu.
func (e *Engine) tryAdoptFork(ctx irrecoverable.SignalerContext) {
	for {
		adopted := false
		for _, run := range e.forks.candidates(e.seq) {
			view := run.view()

			adopt, err := e.selector.Select(view)
			if err != nil {
				if errors.Is(err, timechain.ErrReorgBeyondFinality) {
					e.log.Warn().
						Uint64("divergence_slot", uint64(view.DivergenceSlot)).
						Uint64("finalized_slot", uint64(e.seq.FinalizedSlot())).
						Msg("peer fork diverges below finality, discarding")
					e.forks.remove(run)
					continue
				}
				ctx.Throw(fmt.Errorf("fork choice failed: %w", err))
				return
			}
			if !adopt {
				continue
			}

			replaced := uint64(0)
			if head := e.seq.Head(); head >= view.DivergenceSlot {
				replaced = uint64(head - view.DivergenceSlot + 1)
			}
			err = e.seq.ReplaceSuffix(view.DivergenceSlot, view.Entries)
			if err != nil {
				if errors.Is(err, timechain.ErrNonContiguous) || errors.Is(err, timechain.ErrReorgBeyondFinality) {
					e.log.Warn().Err(err).Msg("winning peer fork could not be applied, discarding")
					e.forks.remove(run)
					continue
				}
				ctx.Throw(fmt.Errorf("could not apply peer fork at slot %d: %w", view.DivergenceSlot, err))
				return
			}
			e.forks.remove(run)

			if replaced > 0 {
				e.metrics.Reorg(replaced)
				e.log.Info().
					Uint64("divergence_slot", uint64(view.DivergenceSlot)).
					Uint64("replaced", replaced).
					Uint64("new_head", uint64(e.seq.Head())).
					Msg("adopted peer fork")
			}

			proofs := make([]*pot.Proof, 0, len(view.Entries))
			for _, entry := range view.Entries {
				proofs = append(proofs, entry.Proof)
			}
			if err := e.cache.ReplaceFrom(view.DivergenceSlot, proofs); err != nil {
				e.log.Warn().Err(err).Msg("could not update proof cache after reorg")
			}
			for _, p := range proofs {
				e.distributor.Publish(p)
			}
			e.forks.prune(e.seq.FinalizedSlot())
			e.persistFinalized(ctx)

			// the sequence changed; recompute attachability from scratch
			adopted = true
			break
		}
		if !adopted {
			return
		}
	}
}

// finishAppend performs the bookkeeping common to every single-proof
// sequence extension. Caller must hold e.mu.
func (e *Engine) finishAppend(ctx irrecoverable.SignalerContext, proof *pot.Proof, localOrigin bool) {
	if err := e.cache.Add(proof); err != nil {
		if !errors.Is(err, mempool.ErrConflictingProof) {
			e.log.Warn().Err(err).Uint64("slot", uint64(proof.SlotNumber)).Msg("could not cache proof")
		}
	}
	e.distributor.Publish(proof)
	if localOrigin && e.broadcaster != nil {
		// peer proofs are rebroadcast by the relay itself
		e.broadcaster.BroadcastProof(proof)
	}
	e.forks.prune(e.seq.FinalizedSlot())
	e.persistFinalized(ctx)

	// a pending fork run may chain off the slot just appended
	e.tryAdoptFork(ctx)
}

// persistFinalized writes a checkpoint whenever the finalized slot has
// advanced past the last persisted one. Caller must hold e.mu. A failed
// write is fatal: resuming from a missing checkpoint would replay already
// finalized slots.
func (e *Engine) persistFinalized(ctx irrecoverable.SignalerContext) {
	final := e.seq.FinalizedSlot()
	if final <= e.persistedFinal {
		return
	}
	proof, err := e.seq.TimeAt(final)
	if err != nil {
		ctx.Throw(fmt.Errorf("could not load newly finalized proof at slot %d: %w", final, err))
		return
	}
	checkpoint := &storage.Checkpoint{
		FinalizedSlot: final,
		Proof:         *proof,
		LastEntropy:   e.lastEntropy,
	}
	if err := e.checkpoints.Store(checkpoint); err != nil {
		ctx.Throw(fmt.Errorf("could not persist clock checkpoint at slot %d: %w", final, err))
		return
	}
	e.persistedFinal = final
	e.metrics.SlotFinalized(final)
}

// shutdownDistributor closes all proof subscriptions once shutdown has
// commenced, unblocking consumers that range over their channel.
func (e *Engine) shutdownDistributor(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	<-ctx.Done()
	e.distributor.Close()
}
