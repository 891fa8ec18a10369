package metrics

import (
	"time"

	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module"
)

// NoopCollector is a metrics collector that does nothing, for tests and for
// nodes that run without a metrics server.
type NoopCollector struct{}

var _ module.TimekeeperMetrics = (*NoopCollector)(nil)
var _ module.RelayMetrics = (*NoopCollector)(nil)
var _ module.MempoolMetrics = (*NoopCollector)(nil)

func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (nc *NoopCollector) SlotProduced(pot.Slot, time.Duration) {}
func (nc *NoopCollector) EntropyInjected(pot.Slot, bool)       {}
func (nc *NoopCollector) SlotFinalized(pot.Slot)               {}
func (nc *NoopCollector) Reorg(uint64)                         {}
func (nc *NoopCollector) Retargeted(uint64)                    {}
func (nc *NoopCollector) ProofReceived()                       {}
func (nc *NoopCollector) ProofDropped(string)                  {}
func (nc *NoopCollector) ProofVerified(bool)                   {}
func (nc *NoopCollector) ProofBroadcast()                      {}
func (nc *NoopCollector) SlowPathVerification()                {}
func (nc *NoopCollector) MempoolEntries(string, uint)          {}
