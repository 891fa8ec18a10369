// Package metrics implements the prometheus collectors behind the metrics
// interfaces in the module package.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module"
)

const (
	namespaceTimekeeper = "timekeeper"

	subsystemClock   = "clock"
	subsystemRelay   = "relay"
	subsystemMempool = "mempool"
)

// Drop reasons reported by the relay via ProofDropped.
const (
	DropReasonDuplicate   = "duplicate"
	DropReasonRejected    = "previously_rejected"
	DropReasonRateLimited = "rate_limited"
	DropReasonMalformed   = "malformed"
	DropReasonQueueFull   = "queue_full"
)

// TimekeeperCollector implements module.TimekeeperMetrics,
// module.RelayMetrics and module.MempoolMetrics with prometheus collectors.
type TimekeeperCollector struct {
	slotProduced       prometheus.Counter
	slotProductionTime prometheus.Histogram
	headSlot           prometheus.Gauge
	finalizedSlot      prometheus.Gauge
	entropyInjections  *prometheus.CounterVec
	reorgs             prometheus.Counter
	reorgDepth         prometheus.Histogram
	slotIterations     prometheus.Gauge

	proofsReceived  prometheus.Counter
	proofsDropped   *prometheus.CounterVec
	proofsVerified  *prometheus.CounterVec
	proofsBroadcast prometheus.Counter
	slowPathVerify  prometheus.Counter

	mempoolEntries *prometheus.GaugeVec
}

var _ module.TimekeeperMetrics = (*TimekeeperCollector)(nil)
var _ module.RelayMetrics = (*TimekeeperCollector)(nil)
var _ module.MempoolMetrics = (*TimekeeperCollector)(nil)

// NewTimekeeperCollector creates the collector and registers it with the
// given registerer.
func NewTimekeeperCollector(registerer prometheus.Registerer) *TimekeeperCollector {
	c := &TimekeeperCollector{
		slotProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemClock,
			Name:      "slots_produced_total",
			Help:      "number of slots produced by the local production loop",
		}),
		slotProductionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemClock,
			Name:      "slot_production_seconds",
			Help:      "wall-clock time to produce one slot's proof",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		headSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemClock,
			Name:      "head_slot",
			Help:      "highest slot of the canonical proof sequence",
		}),
		finalizedSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemClock,
			Name:      "finalized_slot",
			Help:      "highest finalized slot",
		}),
		entropyInjections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemClock,
			Name:      "entropy_injections_total",
			Help:      "entropy injections, labeled by whether the value was stale",
		}, []string{"stale"}),
		reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemClock,
			Name:      "reorgs_total",
			Help:      "number of adopted peer suffixes replacing local slots",
		}),
		reorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemClock,
			Name:      "reorg_depth_slots",
			Help:      "number of local slots replaced per reorg",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		slotIterations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemClock,
			Name:      "slot_iterations",
			Help:      "current iterations-per-slot target",
		}),
		proofsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemRelay,
			Name:      "proofs_received_total",
			Help:      "inbound proof announcements",
		}),
		proofsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemRelay,
			Name:      "proofs_dropped_total",
			Help:      "inbound announcements dropped before verification, by reason",
		}, []string{"reason"}),
		proofsVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemRelay,
			Name:      "proofs_verified_total",
			Help:      "verification outcomes for novel inbound proofs",
		}, []string{"valid"}),
		proofsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemRelay,
			Name:      "proofs_broadcast_total",
			Help:      "outbound proof announcements",
		}),
		slowPathVerify: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemRelay,
			Name:      "slow_path_verifications_total",
			Help:      "verifications that fell back to full sequential replay",
		}),
		mempoolEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceTimekeeper,
			Subsystem: subsystemMempool,
			Name:      "entries",
			Help:      "current size of the node-internal memory pools",
		}, []string{"resource"}),
	}

	registerer.MustRegister(
		c.slotProduced, c.slotProductionTime, c.headSlot, c.finalizedSlot,
		c.entropyInjections, c.reorgs, c.reorgDepth, c.slotIterations,
		c.proofsReceived, c.proofsDropped, c.proofsVerified,
		c.proofsBroadcast, c.slowPathVerify, c.mempoolEntries,
	)
	return c
}

func (c *TimekeeperCollector) SlotProduced(slot pot.Slot, duration time.Duration) {
	c.slotProduced.Inc()
	c.slotProductionTime.Observe(duration.Seconds())
	c.headSlot.Set(float64(slot))
}

func (c *TimekeeperCollector) EntropyInjected(_ pot.Slot, stale bool) {
	if stale {
		c.entropyInjections.WithLabelValues("true").Inc()
	} else {
		c.entropyInjections.WithLabelValues("false").Inc()
	}
}

func (c *TimekeeperCollector) SlotFinalized(slot pot.Slot) {
	c.finalizedSlot.Set(float64(slot))
}

func (c *TimekeeperCollector) Reorg(depth uint64) {
	c.reorgs.Inc()
	c.reorgDepth.Observe(float64(depth))
}

func (c *TimekeeperCollector) Retargeted(iterations uint64) {
	c.slotIterations.Set(float64(iterations))
}

func (c *TimekeeperCollector) ProofReceived() {
	c.proofsReceived.Inc()
}

func (c *TimekeeperCollector) ProofDropped(reason string) {
	c.proofsDropped.WithLabelValues(reason).Inc()
}

func (c *TimekeeperCollector) ProofVerified(valid bool) {
	if valid {
		c.proofsVerified.WithLabelValues("true").Inc()
	} else {
		c.proofsVerified.WithLabelValues("false").Inc()
	}
}

func (c *TimekeeperCollector) ProofBroadcast() {
	c.proofsBroadcast.Inc()
}

func (c *TimekeeperCollector) SlowPathVerification() {
	c.slowPathVerify.Inc()
}

func (c *TimekeeperCollector) MempoolEntries(resource string, entries uint) {
	c.mempoolEntries.WithLabelValues(resource).Set(float64(entries))
}
