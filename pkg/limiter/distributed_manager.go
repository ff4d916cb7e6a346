package limiter

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type coordinationState int

const (
	stateDiscovering coordinationState = iota
	stateReady
)

// groupSummaryKey is the fixed lookup key used to elect the housekeeping
// leader among the current peer group. Any constant key works: rendezvous
// hashing only needs a stable input to deterministically pick one member of
// the current node set.
const groupSummaryKey = "group-summary"

// DistributedQuotaManager wraps a local QuotaManager, replacing its Quota
// with a share computed from the live size of a peer group discovered over
// a Redis pub/sub channel. It implements QuotaManager; TryStart, End, and
// ActiveCount delegate to the wrapped local manager under the
// currently-effective share.
type DistributedQuotaManager struct {
	cfg        distributedConfig
	configured Quota
	channel    string
	selfID     string

	local *localQuotaManager

	pub    publisher
	ps     subscription
	closer io.Closer

	mu       sync.Mutex
	registry *peerRegistry
	state    coordinationState
	rendez   *rendezvous.Rendezvous

	ready       chan struct{}
	readyClosed bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDistributedQuotaManager constructs a DistributedQuotaManager sharing
// quota across every instance subscribed to channel on client. Construction
// fails with UnsupportedClientError if client cannot produce an independent
// subscriber connection (see CoordinationClient).
func NewDistributedQuotaManager(quota Quota, channel string, client CoordinationClient, opts ...DistributedOption) (*DistributedQuotaManager, error) {
	ps, closer, err := newSubscription(client, channel)
	if err != nil {
		return nil, err
	}
	dm, err := newDistributedQuotaManager(quota, channel, client, ps, opts...)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	dm.closer = closer
	return dm, nil
}

// newDistributedQuotaManager builds a DistributedQuotaManager over an
// already-established transport. It is the seam tests use to exercise the
// coordination protocol against a fake publisher/subscription without a
// real Redis server; NewDistributedQuotaManager is a thin wrapper that wires
// the real go-redis transport and calls this.
func newDistributedQuotaManager(quota Quota, channel string, pub publisher, ps subscription, opts ...DistributedOption) (*DistributedQuotaManager, error) {
	if err := quota.Validate(); err != nil {
		return nil, err
	}

	cfg := defaultDistributedConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	selfID := cfg.idGenerator()

	dm := &DistributedQuotaManager{
		cfg:        cfg,
		configured: quota,
		channel:    channel,
		selfID:     selfID,
		pub:        pub,
		ps:         ps,
		registry:   newPeerRegistry(selfID),
		ready:      make(chan struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	dm.refreshRendezvousLocked()

	if quota.FastStart {
		dm.state = stateReady
		dm.local = NewLocalQuotaManager(quota.withGroupSize(dm.registry.groupSize()))
		close(dm.ready)
		dm.readyClosed = true
	} else {
		dm.state = stateDiscovering
		dm.local = NewLocalQuotaManager(quota.blockedShare())
	}

	go dm.run()

	return dm, nil
}

// Ready returns a channel that is closed once this instance has a stable
// share derived from discovered peers: either immediately (FastStart) or
// once the discovery window elapses and the post-ready quiescence delay
// passes.
func (dm *DistributedQuotaManager) Ready() <-chan struct{} {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.ready
}

func (dm *DistributedQuotaManager) TryStart(now time.Time) bool { return dm.local.TryStart(now) }
func (dm *DistributedQuotaManager) End()                        { dm.local.End() }
func (dm *DistributedQuotaManager) ActiveCount() int            { return dm.local.ActiveCount() }
func (dm *DistributedQuotaManager) Quota() Quota                { return dm.local.Quota() }

// Unregister broadcasts GOODBYE and releases the coordinator's
// subscriptions. It blocks until the coordinator goroutine has exited.
func (dm *DistributedQuotaManager) Unregister(ctx context.Context) error {
	dm.stopOnce.Do(func() { close(dm.stopCh) })
	select {
	case <-dm.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (dm *DistributedQuotaManager) run() {
	defer close(dm.doneCh)

	// Spread heartbeats across the interval instead of every peer
	// ticking in lockstep, by offsetting the first tick with a jitter
	// derived deterministically from this instance's id.
	jitter := time.Duration(xxhash.Sum64String(dm.selfID) % uint64(dm.cfg.heartbeatInterval))

	dm.publish(msgHello)

	heartbeat := time.NewTicker(dm.cfg.heartbeatInterval)
	defer heartbeat.Stop()

	jitterTimer := time.NewTimer(jitter)
	defer jitterTimer.Stop()

	var discoveryTimerC <-chan time.Time
	if dm.state == stateDiscovering {
		discoveryTimer := time.NewTimer(dm.cfg.discoveryWindow)
		defer discoveryTimer.Stop()
		discoveryTimerC = discoveryTimer.C
	}

	var quiescence *time.Timer
	msgCh := dm.ps.Channel()

	for {
		var quiescenceC <-chan time.Time
		if quiescence != nil {
			quiescenceC = quiescence.C
		}

		select {
		case <-dm.stopCh:
			dm.publish(msgGoodbye)
			_ = dm.ps.Close()
			if dm.closer != nil {
				_ = dm.closer.Close()
			}
			return

		case <-jitterTimer.C:
			dm.publish(msgHello)
			heartbeat.Reset(dm.cfg.heartbeatInterval)

		case <-heartbeat.C:
			dm.publish(msgHello)
			dm.runHousekeeping()

		case <-discoveryTimerC:
			discoveryTimerC = nil
			dm.transitionToReady()
			if dm.cfg.postReadyQuiescence > 0 {
				quiescence = time.NewTimer(dm.cfg.postReadyQuiescence)
			} else {
				dm.closeReady()
			}

		case <-quiescenceC:
			dm.closeReady()
			quiescence = nil

		case m, ok := <-msgCh:
			if !ok {
				return
			}
			dm.handleMessage(m)
		}
	}
}

func (dm *DistributedQuotaManager) publish(t messageType) {
	payload, err := encodeMessage(message{Type: t, ID: dm.selfID, T: dm.cfg.clock.Now().UnixMilli()})
	if err != nil {
		dm.cfg.logger.Warn("rate limiter: failed to encode coordination message", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dm.cfg.heartbeatInterval)
	defer cancel()
	if err := dm.pub.Publish(ctx, dm.channel, payload).Err(); err != nil {
		// Transport errors are transient and never surfaced to callers;
		// the protocol self-heals via the next heartbeat.
		dm.cfg.logger.Warn("rate limiter: failed to publish coordination message", zap.String("type", string(t)), zap.Error(err))
	}
}

func (dm *DistributedQuotaManager) handleMessage(m *redis.Message) {
	msg, err := decodeMessage([]byte(m.Payload))
	if err != nil {
		dm.cfg.logger.Warn("rate limiter: failed to decode coordination message", zap.Error(err))
		return
	}

	now := dm.cfg.clock.Now()

	switch msg.Type {
	case msgHello:
		isNew := dm.registry.see(msg.ID, now)
		if isNew {
			dm.publish(msgWelcome)
			dm.recomputeShare()
		}
	case msgWelcome:
		isNew := dm.registry.see(msg.ID, now)
		if isNew {
			dm.recomputeShare()
		}
	case msgGoodbye:
		dm.registry.remove(msg.ID)
		dm.recomputeShare()
	}
}

func (dm *DistributedQuotaManager) runHousekeeping() {
	now := dm.cfg.clock.Now()
	dm.mu.Lock()
	changed := dm.registry.evictExpired(now, dm.cfg.expiryHorizon)
	dm.mu.Unlock()
	if changed {
		dm.recomputeShare()
	}
}

// transitionToReady moves a DISCOVERING instance to READY, computing the
// first real share from whatever peers were discovered during the window.
func (dm *DistributedQuotaManager) transitionToReady() {
	dm.mu.Lock()
	dm.state = stateReady
	groupSize := dm.registry.groupSize()
	dm.mu.Unlock()

	dm.local.setQuota(dm.configured.withGroupSize(groupSize))
	dm.logGroupSummary(groupSize)
}

// recomputeShare is called whenever membership changes (peer seen or
// evicted). During DISCOVERING it is a no-op on the effective share, which
// stays blocked until the discovery window elapses; in READY (including
// under FastStart, which starts READY) it updates the live share.
func (dm *DistributedQuotaManager) recomputeShare() {
	dm.mu.Lock()
	ready := dm.state == stateReady
	groupSize := dm.registry.groupSize()
	dm.refreshRendezvousLocked()
	dm.mu.Unlock()

	if !ready {
		return
	}
	dm.local.setQuota(dm.configured.withGroupSize(groupSize))
	dm.logGroupSummary(groupSize)
}

// refreshRendezvousLocked rebuilds the rendezvous table over the current
// group. Callers must hold dm.mu. Rebuilding from scratch is cheap at the
// group sizes this system targets and avoids tracking incremental
// add/remove operations against the registry's own bookkeeping.
func (dm *DistributedQuotaManager) refreshRendezvousLocked() {
	dm.rendez = rendezvous.New(dm.registry.ids(), xxhash.Sum64String)
}

// isHousekeepingLeader reports whether this instance is responsible for
// emitting the deduplicated group-summary signal on a membership change.
// This is a cosmetic optimization only: every peer still runs its own
// expiry and share recomputation regardless of leadership, so peers that
// briefly disagree on the leader never affect correctness.
func (dm *DistributedQuotaManager) isHousekeepingLeader() bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.rendez == nil {
		return true
	}
	return dm.rendez.Lookup(groupSummaryKey) == dm.selfID
}

func (dm *DistributedQuotaManager) logGroupSummary(groupSize int) {
	if !dm.isHousekeepingLeader() {
		return
	}
	dm.cfg.recorder.Observe(metricPeerGroup, float64(groupSize), map[string]string{"channel": dm.channel})
	dm.cfg.logger.Info("rate limiter: peer group membership changed",
		zap.String("channel", dm.channel),
		zap.Int("group_size", groupSize),
	)
}

func (dm *DistributedQuotaManager) closeReady() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if !dm.readyClosed {
		close(dm.ready)
		dm.readyClosed = true
	}
}
