package relay_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/timechain/timekeeper/engine"
	"github.com/timechain/timekeeper/engine/relay"
	"github.com/timechain/timekeeper/model/messages"
	"github.com/timechain/timekeeper/model/pot"
	"github.com/timechain/timekeeper/module/irrecoverable"
	"github.com/timechain/timekeeper/module/mempool"
	"github.com/timechain/timekeeper/module/mempool/stdmap"
	"github.com/timechain/timekeeper/module/metrics"
	"github.com/timechain/timekeeper/network"
	"github.com/timechain/timekeeper/utils/unittest"
)

type stubConduit struct {
	published chan interface{}
}

func (c *stubConduit) Publish(event interface{}) error {
	c.published <- event
	return nil
}

func (c *stubConduit) Close() error { return nil }

type stubNetwork struct {
	conduit *stubConduit
}

func (n *stubNetwork) Register(network.Channel, network.MessageProcessor) (network.Conduit, error) {
	return n.conduit, nil
}

type sinkRecorder struct {
	proofs chan *pot.Proof
}

func (s *sinkRecorder) SubmitProof(proof *pot.Proof) {
	s.proofs <- proof
}

type reportRecorder struct {
	mu      sync.Mutex
	reports []*network.MisbehaviorReport
}

func (r *reportRecorder) ReportMisbehavior(report *network.MisbehaviorReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *reportRecorder) all() []*network.MisbehaviorReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*network.MisbehaviorReport{}, r.reports...)
}

type relayFixture struct {
	engine   *relay.Engine
	conduit  *stubConduit
	sink     *sinkRecorder
	reporter *reportRecorder
	cache    mempool.Proofs
}

func startRelay(t *testing.T, cfg relay.Config) *relayFixture {
	conduit := &stubConduit{published: make(chan interface{}, 100)}
	sink := &sinkRecorder{proofs: make(chan *pot.Proof, 100)}
	reporter := &reportRecorder{}
	cache, err := stdmap.NewProofs(1000)
	require.NoError(t, err)

	e, err := relay.New(
		unittest.Logger(t),
		metrics.NewNoopCollector(),
		metrics.NewNoopCollector(),
		cfg,
		&stubNetwork{conduit: conduit},
		sink,
		cache,
		reporter,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(irrecoverable.NewMockSignalerContext(t, ctx))
	unittest.RequireCloseBefore(t, e.Ready(), time.Second, "relay did not start")
	t.Cleanup(func() {
		cancel()
		unittest.RequireCloseBefore(t, e.Done(), 5*time.Second, "relay did not shut down")
	})

	return &relayFixture{
		engine:   e,
		conduit:  conduit,
		sink:     sink,
		reporter: reporter,
		cache:    cache,
	}
}

func peer(b byte) network.PeerID {
	var id network.PeerID
	id[0] = b
	return id
}

// A valid announcement is verified, cached, forwarded to the clock engine,
// and rebroadcast exactly once; replays are dropped.
func TestRelay_ForwardsValidProof(t *testing.T) {
	fix := startRelay(t, relay.Config{})

	proof := unittest.ProofFixture(t, 7)
	announcement := messages.ProofAnnouncementFromProof(proof)
	require.NoError(t, fix.engine.Process(network.ChannelProofs, peer(1), announcement))

	select {
	case got := <-fix.sink.proofs:
		assert.Equal(t, proof.ID(), got.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("verified proof was not forwarded")
	}
	assert.True(t, fix.cache.Has(proof.ID()))

	select {
	case event := <-fix.conduit.published:
		rebroadcast, ok := event.(*messages.ProofAnnouncement)
		require.True(t, ok)
		assert.Equal(t, proof.ID(), rebroadcast.ToProof().ID())
	case <-time.After(5 * time.Second):
		t.Fatal("verified proof was not rebroadcast")
	}

	// the same announcement again, from a different peer: dropped
	require.NoError(t, fix.engine.Process(network.ChannelProofs, peer(2), announcement))
	select {
	case <-fix.sink.proofs:
		t.Fatal("duplicate announcement was forwarded again")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Empty(t, fix.reporter.all())
}

// A tampered proof is rejected, reported, and never reaches the cache or
// the clock engine. A replay of the same forgery is dropped without being
// re-verified or re-reported.
func TestRelay_RejectsForgedProof(t *testing.T) {
	fix := startRelay(t, relay.Config{})

	proof := unittest.ProofFixture(t, 3)
	forged := *proof
	forged.Checkpoints = append([]pot.Output{}, proof.Checkpoints...)
	forged.Checkpoints[4][0] ^= 0x01
	announcement := messages.ProofAnnouncementFromProof(&forged)

	require.NoError(t, fix.engine.Process(network.ChannelProofs, peer(1), announcement))

	require.Eventually(t, func() bool {
		reports := fix.reporter.all()
		return len(reports) == 1 && reports[0].Reason == network.ForgedProof
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, peer(1), fix.reporter.all()[0].OriginID)

	assert.False(t, fix.cache.Has(forged.ID()))
	select {
	case <-fix.sink.proofs:
		t.Fatal("forged proof was forwarded to the clock engine")
	default:
	}

	// replaying the forgery is a cheap drop, not a second verification
	require.NoError(t, fix.engine.Process(network.ChannelProofs, peer(1), announcement))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, fix.reporter.all(), 1)
}

// Structurally invalid announcements are dropped before verification and
// reported as malformed.
func TestRelay_ReportsMalformedAnnouncement(t *testing.T) {
	fix := startRelay(t, relay.Config{})

	proof := unittest.ProofFixture(t, 3)
	announcement := messages.ProofAnnouncementFromProof(proof)
	announcement.Checkpoints = announcement.Checkpoints[:3]

	require.NoError(t, fix.engine.Process(network.ChannelProofs, peer(1), announcement))

	reports := fix.reporter.all()
	require.Len(t, reports, 1)
	assert.Equal(t, network.MalformedMessage, reports[0].Reason)

	select {
	case <-fix.sink.proofs:
		t.Fatal("malformed announcement was forwarded")
	case <-time.After(100 * time.Millisecond):
	}
}

// A peer exceeding its rate budget is throttled and reported for flooding;
// other peers are unaffected.
func TestRelay_RateLimitsPerPeer(t *testing.T) {
	fix := startRelay(t, relay.Config{
		PerPeerRateLimit: rate.Limit(1e-9),
		PerPeerRateBurst: 1,
	})

	first := messages.ProofAnnouncementFromProof(unittest.ProofFixture(t, 1))
	second := messages.ProofAnnouncementFromProof(unittest.ProofFixture(t, 2))

	require.NoError(t, fix.engine.Process(network.ChannelProofs, peer(1), first))
	require.NoError(t, fix.engine.Process(network.ChannelProofs, peer(1), second))

	require.Eventually(t, func() bool {
		for _, report := range fix.reporter.all() {
			if report.Reason == network.Flooding {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// only the first announcement got through
	select {
	case got := <-fix.sink.proofs:
		assert.Equal(t, first.ToProof().ID(), got.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("first announcement was not forwarded")
	}

	// a different peer still has budget
	third := messages.ProofAnnouncementFromProof(unittest.ProofFixture(t, 3))
	require.NoError(t, fix.engine.Process(network.ChannelProofs, peer(2), third))
	select {
	case got := <-fix.sink.proofs:
		assert.Equal(t, third.ToProof().ID(), got.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("other peer's announcement was not forwarded")
	}
}

func TestRelay_RejectsUnknownMessageType(t *testing.T) {
	fix := startRelay(t, relay.Config{})

	err := fix.engine.Process(network.ChannelProofs, peer(1), "not an announcement")
	assert.True(t, engine.IsInvalidInputError(err))
}

// Locally produced proofs queued via BroadcastProof reach the wire, and
// their echo from peers is dropped as a duplicate.
func TestRelay_BroadcastsLocalProofs(t *testing.T) {
	fix := startRelay(t, relay.Config{})

	proof := unittest.ProofFixture(t, 5)
	fix.engine.BroadcastProof(proof)

	select {
	case event := <-fix.conduit.published:
		announcement, ok := event.(*messages.ProofAnnouncement)
		require.True(t, ok)
		assert.Equal(t, proof.ID(), announcement.ToProof().ID())
	case <-time.After(5 * time.Second):
		t.Fatal("local proof was not broadcast")
	}

	// the network echoes our own announcement back
	echo := messages.ProofAnnouncementFromProof(proof)
	require.NoError(t, fix.engine.Process(network.ChannelProofs, peer(9), echo))
	select {
	case <-fix.sink.proofs:
		t.Fatal("own proof echo was forwarded to the clock engine")
	case <-time.After(100 * time.Millisecond):
	}
}
