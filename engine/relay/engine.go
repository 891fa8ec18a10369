// Package relay implements the gossip relay engine. It receives proof
// announcements from the network, filters duplicates and floods, verifies
// novel proofs on a bounded worker pool, and forwards valid ones to the
// clock engine and back out to peers. A valid proof is rebroadcast exactly
// once per node, which keeps dissemination epidemic without amplifying it.
package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/timechain/timekeeper/crypto/vdf"
	"github.com/timechain/timekeeper/engine"
	"github.com/timechain/timekeeper/engine/common/fifoqueue"
	"github.com/timechain/timekeeper/model/messages"
	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module"
	"github.com/timechain/timekeeper/module/component"
	"github.com/timechain/timekeeper/module/irrecoverable"
	"github.com/timechain/timekeeper/module/mempool"
	"github.com/timechain/timekeeper/module/metrics"
	"github.com/timechain/timekeeper/network"
)

const (
	defaultInboundQueueCapacity  = 1024
	defaultOutboundQueueCapacity = 512
	defaultVerifierWorkers       = 4
	defaultSeenCacheSize         = 4096
	defaultRejectedCacheSize     = 4096
	defaultPeerLimiterCacheSize  = 1024
	defaultPerPeerRateLimit      = rate.Limit(20)
	defaultPerPeerRateBurst      = 40
)

// ProofSink receives verified peer proofs for incorporation into the
// canonical sequence. Implementations must be non-blocking.
type ProofSink interface {
	SubmitProof(proof *pot.Proof)
}

// Config holds the tunable parameters of the relay. Zero values are
// replaced by defaults.
type Config struct {
	// InboundQueueCapacity bounds announcements awaiting verification.
	InboundQueueCapacity uint

	// OutboundQueueCapacity bounds announcements awaiting publication.
	OutboundQueueCapacity uint

	// VerifierWorkers is the number of concurrent proof verifications.
	VerifierWorkers int

	// PerPeerRateLimit and PerPeerRateBurst budget announcements per peer
	// per second. A peer exceeding its budget is reported for flooding.
	PerPeerRateLimit rate.Limit
	PerPeerRateBurst int

	// SeenCacheSize and RejectedCacheSize bound the dedup sets for
	// previously accepted and previously rejected proof identities.
	SeenCacheSize     int
	RejectedCacheSize int

	// PeerLimiterCacheSize bounds how many per-peer limiters are retained.
	PeerLimiterCacheSize int

	// SequentialFallback re-verifies a failed proof with a full sequential
	// replay before rejecting it, trading CPU for certainty that honest
	// peers are never reported over a chunking artifact.
	SequentialFallback bool
}

type inboundAnnouncement struct {
	origin network.PeerID
	proof  *pot.Proof
}

// Engine is the gossip relay. It implements network.MessageProcessor for
// inbound traffic and module.ProofBroadcaster for locally produced proofs.
type Engine struct {
	*component.ComponentManager

	log     zerolog.Logger
	cfg     Config
	metrics module.RelayMetrics

	sink     ProofSink
	cache    mempool.Proofs
	reporter network.MisbehaviorReporter
	conduit  network.Conduit
	pool     *workerpool.WorkerPool

	limiterMu sync.Mutex
	limiters  *lru.Cache // network.PeerID -> *rate.Limiter

	seen     *lru.Cache // pot.Identifier -> struct{}, accepted proofs
	rejected *lru.Cache // pot.Identifier -> struct{}, forged proofs

	inbound          *fifoqueue.FifoQueue
	inboundNotifier  engine.Notifier
	inboundDone      chan struct{}
	outbound         *fifoqueue.FifoQueue
	outboundNotifier engine.Notifier
}

var _ network.MessageProcessor = (*Engine)(nil)
var _ module.ProofBroadcaster = (*Engine)(nil)
var _ component.Component = (*Engine)(nil)

// New creates a relay engine and registers it on the proof gossip channel.
func New(
	log zerolog.Logger,
	relayMetrics module.RelayMetrics,
	mempoolMetrics module.MempoolMetrics,
	cfg Config,
	net network.Network,
	sink ProofSink,
	cache mempool.Proofs,
	reporter network.MisbehaviorReporter,
) (*Engine, error) {
	applyDefaults(&cfg)

	inbound, err := fifoqueue.NewFifoQueue(
		fifoqueue.WithCapacity(int(cfg.InboundQueueCapacity)),
		fifoqueue.WithLengthObserver(func(len int) {
			mempoolMetrics.MempoolEntries("relay_inbound", uint(len))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create inbound queue: %w", err)
	}
	outbound, err := fifoqueue.NewFifoQueue(
		fifoqueue.WithCapacity(int(cfg.OutboundQueueCapacity)),
		fifoqueue.WithLengthObserver(func(len int) {
			mempoolMetrics.MempoolEntries("relay_outbound", uint(len))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create outbound queue: %w", err)
	}

	limiters, err := lru.New(cfg.PeerLimiterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create peer limiter cache: %w", err)
	}
	seen, err := lru.New(cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create seen cache: %w", err)
	}
	rejected, err := lru.New(cfg.RejectedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create rejected cache: %w", err)
	}

	e := &Engine{
		log:              log.With().Str("engine", "relay").Logger(),
		cfg:              cfg,
		metrics:          relayMetrics,
		sink:             sink,
		cache:            cache,
		reporter:         reporter,
		pool:             workerpool.New(cfg.VerifierWorkers),
		limiters:         limiters,
		seen:             seen,
		rejected:         rejected,
		inbound:          inbound,
		inboundNotifier:  engine.NewNotifier(),
		inboundDone:      make(chan struct{}),
		outbound:         outbound,
		outboundNotifier: engine.NewNotifier(),
	}

	e.conduit, err = net.Register(network.ChannelProofs, e)
	if err != nil {
		return nil, fmt.Errorf("could not register on proof channel: %w", err)
	}

	e.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(e.inboundLoop).
		AddWorker(e.outboundLoop).
		AddWorker(e.shutdownPool).
		Build()

	return e, nil
}

func applyDefaults(cfg *Config) {
	if cfg.InboundQueueCapacity == 0 {
		cfg.InboundQueueCapacity = defaultInboundQueueCapacity
	}
	if cfg.OutboundQueueCapacity == 0 {
		cfg.OutboundQueueCapacity = defaultOutboundQueueCapacity
	}
	if cfg.VerifierWorkers == 0 {
		cfg.VerifierWorkers = defaultVerifierWorkers
	}
	if cfg.PerPeerRateLimit == 0 {
		cfg.PerPeerRateLimit = defaultPerPeerRateLimit
	}
	if cfg.PerPeerRateBurst == 0 {
		cfg.PerPeerRateBurst = defaultPerPeerRateBurst
	}
	if cfg.SeenCacheSize == 0 {
		cfg.SeenCacheSize = defaultSeenCacheSize
	}
	if cfg.RejectedCacheSize == 0 {
		cfg.RejectedCacheSize = defaultRejectedCacheSize
	}
	if cfg.PeerLimiterCacheSize == 0 {
		cfg.PeerLimiterCacheSize = defaultPeerLimiterCacheSize
	}
}

// Process handles an inbound message from the networking layer. It filters
// and queues, never verifies; verification happens on the worker pool.
// Dropped announcements are not an error from the network's perspective.
//
// Error returns: engine.InvalidInputError on unexpected message types.
func (e *Engine) Process(channel network.Channel, originID network.PeerID, event interface{}) error {
	announcement, ok := event.(*messages.ProofAnnouncement)
	if !ok {
		return engine.NewInvalidInputErrorf("unexpected message type %T on channel %s", event, channel)
	}
	e.metrics.ProofReceived()

	if !e.limiter(originID).Allow() {
		e.metrics.ProofDropped(metrics.DropReasonRateLimited)
		e.reporter.ReportMisbehavior(&network.MisbehaviorReport{
			OriginID: originID,
			Reason:   network.Flooding,
		})
		e.log.Debug().Str("origin", originID.String()).Msg("peer exceeded announcement rate budget")
		return nil
	}

	proof := announcement.ToProof()
	if err := proof.CheckStructure(); err != nil {
		e.metrics.ProofDropped(metrics.DropReasonMalformed)
		e.reporter.ReportMisbehavior(&network.MisbehaviorReport{
			OriginID: originID,
			Reason:   network.MalformedMessage,
		})
		e.log.Debug().Err(err).Str("origin", originID.String()).Msg("malformed proof announcement")
		return nil
	}

	id := proof.ID()
	if e.seen.Contains(id) || e.cache.Has(id) {
		e.metrics.ProofDropped(metrics.DropReasonDuplicate)
		return nil
	}
	if e.rejected.Contains(id) {
		// a known-forged proof costs the sender nothing new, but is never
		// re-verified
		e.metrics.ProofDropped(metrics.DropReasonRejected)
		return nil
	}

	if !e.inbound.Push(&inboundAnnouncement{origin: originID, proof: proof}) {
		e.metrics.ProofDropped(metrics.DropReasonQueueFull)
		e.log.Warn().Uint64("slot", uint64(proof.SlotNumber)).Msg("inbound announcement queue full")
		return nil
	}
	e.inboundNotifier.Notify()
	return nil
}

// BroadcastProof queues a locally produced proof for publication. It never
// blocks the caller.
func (e *Engine) BroadcastProof(proof *pot.Proof) {
	e.seen.Add(proof.ID(), struct{}{})
	e.enqueueBroadcast(proof)
}

func (e *Engine) enqueueBroadcast(proof *pot.Proof) {
	if !e.outbound.Push(messages.ProofAnnouncementFromProof(proof)) {
		e.log.Warn().Uint64("slot", uint64(proof.SlotNumber)).Msg("outbound announcement queue full")
		return
	}
	e.outboundNotifier.Notify()
}

func (e *Engine) limiter(origin network.PeerID) *rate.Limiter {
	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()

	if cached, ok := e.limiters.Get(origin); ok {
		return cached.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(e.cfg.PerPeerRateLimit, e.cfg.PerPeerRateBurst)
	e.limiters.Add(origin, limiter)
	return limiter
}

// inboundLoop feeds queued announcements to the verification pool.
func (e *Engine) inboundLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	defer close(e.inboundDone)
	ready()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.inboundNotifier.Channel():
			for {
				msg, ok := e.inbound.Pop()
				if !ok {
					break
				}
				announcement := msg.(*inboundAnnouncement)
				e.pool.Submit(func() {
					e.verifyAndForward(ctx, announcement.origin, announcement.proof)
				})
			}
		}
	}
}

// verifyAndForward verifies a novel proof and, when valid, hands it to the
// clock engine and rebroadcasts it. Runs on the worker pool.
func (e *Engine) verifyAndForward(ctx irrecoverable.SignalerContext, origin network.PeerID, proof *pot.Proof) {
	err := vdf.Verify(proof)
	if vdf.IsVerificationMismatchError(err) && e.cfg.SequentialFallback {
		e.metrics.SlowPathVerification()
		err = vdf.SequentialVerify(proof)
	}
	if err != nil {
		if vdf.IsVerificationMismatchError(err) || pot.IsMalformedProofError(err) {
			e.metrics.ProofVerified(false)
			e.rejected.Add(proof.ID(), struct{}{})
			e.reporter.ReportMisbehavior(&network.MisbehaviorReport{
				OriginID: origin,
				Reason:   network.ForgedProof,
			})
			e.log.Info().
				Str("origin", origin.String()).
				Uint64("slot", uint64(proof.SlotNumber)).
				Msg("rejected forged proof")
			return
		}
		ctx.Throw(fmt.Errorf("proof verification failed unexpectedly: %w", err))
		return
	}

	e.metrics.ProofVerified(true)
	e.seen.Add(proof.ID(), struct{}{})
	if err := e.cache.Add(proof); err != nil && !errors.Is(err, mempool.ErrConflictingProof) {
		e.log.Warn().Err(err).Uint64("slot", uint64(proof.SlotNumber)).Msg("could not cache verified proof")
	}
	e.sink.SubmitProof(proof)
	e.enqueueBroadcast(proof)
}

// outboundLoop publishes queued announcements on the gossip channel.
func (e *Engine) outboundLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.outboundNotifier.Channel():
			for {
				msg, ok := e.outbound.Pop()
				if !ok {
					break
				}
				announcement := msg.(*messages.ProofAnnouncement)
				if err := e.conduit.Publish(announcement); err != nil {
					e.log.Warn().Err(err).
						Uint64("slot", uint64(announcement.SlotNumber)).
						Msg("could not publish proof announcement")
					continue
				}
				e.metrics.ProofBroadcast()
			}
		}
	}
}

// shutdownPool drains the verification pool and releases the channel once
// shutdown has commenced.
func (e *Engine) shutdownPool(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	<-ctx.Done()
	// the pool only accepts submissions from the inbound loop, which must
	// have exited before the pool is stopped
	<-e.inboundDone
	e.pool.StopWait()
	if err := e.conduit.Close(); err != nil {
		e.log.Warn().Err(err).Msg("could not close proof channel conduit")
	}
}
