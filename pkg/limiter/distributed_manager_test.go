package limiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestDistributedManager(t *testing.T, broker *fakeBroker, channel string, quota Quota, opts ...DistributedOption) *DistributedQuotaManager {
	t.Helper()
	pub, ps := broker.newPeer(channel)
	base := []DistributedOption{
		WithHeartbeatInterval(15 * time.Millisecond),
		WithPostReadyQuiescence(5 * time.Millisecond),
	}
	dm, err := newDistributedQuotaManager(quota, channel, pub, ps, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dm.Unregister(ctx)
	})
	return dm
}

func waitReady(t *testing.T, dm *DistributedQuotaManager, timeout time.Duration) {
	t.Helper()
	select {
	case <-dm.Ready():
	case <-time.After(timeout):
		t.Fatal("timed out waiting for DistributedQuotaManager to become ready")
	}
}

// TestDistributedQuotaManager_FairSplit exercises S5: three peers on the
// same channel converge on an equal floor-divided share of the configured
// quota.
func TestDistributedQuotaManager_FairSplit(t *testing.T) {
	broker := newFakeBroker()
	quota := Quota{Concurrency: IntQuota(9)}

	a := newTestDistributedManager(t, broker, "ch", quota)
	b := newTestDistributedManager(t, broker, "ch", quota)
	c := newTestDistributedManager(t, broker, "ch", quota)

	waitReady(t, a, 2*time.Second)
	waitReady(t, b, 2*time.Second)
	waitReady(t, c, 2*time.Second)

	require.Eventually(t, func() bool {
		return *a.Quota().Concurrency == 3 && *b.Quota().Concurrency == 3 && *c.Quota().Concurrency == 3
	}, time.Second, 10*time.Millisecond)
}

// TestDistributedQuotaManager_PeerDeparture exercises S6: when a peer
// leaves via an explicit GOODBYE, the remaining peer's share grows back.
func TestDistributedQuotaManager_PeerDeparture(t *testing.T) {
	broker := newFakeBroker()
	quota := Quota{Concurrency: IntQuota(10)}

	a := newTestDistributedManager(t, broker, "ch", quota)
	b := newTestDistributedManager(t, broker, "ch", quota)

	waitReady(t, a, 2*time.Second)
	waitReady(t, b, 2*time.Second)

	require.Eventually(t, func() bool {
		return *a.Quota().Concurrency == 5
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Unregister(ctx))

	require.Eventually(t, func() bool {
		return *a.Quota().Concurrency == 10
	}, time.Second, 10*time.Millisecond)
}

// TestDistributedQuotaManager_FastStart exercises S7: a FastStart instance
// is immediately READY at the full configured quota (group size 1) rather
// than blocking through a discovery window.
func TestDistributedQuotaManager_FastStart(t *testing.T) {
	broker := newFakeBroker()
	quota := Quota{Concurrency: IntQuota(10), FastStart: true}

	a := newTestDistributedManager(t, broker, "ch", quota)

	select {
	case <-a.Ready():
	default:
		t.Fatal("FastStart instance should be immediately ready")
	}
	require.Equal(t, 10, *a.Quota().Concurrency)
}

// TestDistributedQuotaManager_FastStartDownshiftsAsPeersJoin verifies a
// FastStart instance narrows its share once peers are discovered, rather
// than keeping the full quota forever.
func TestDistributedQuotaManager_FastStartDownshiftsAsPeersJoin(t *testing.T) {
	broker := newFakeBroker()
	quota := Quota{Concurrency: IntQuota(10), FastStart: true}

	a := newTestDistributedManager(t, broker, "ch", quota)
	require.Equal(t, 10, *a.Quota().Concurrency)

	b := newTestDistributedManager(t, broker, "ch", quota)
	waitReady(t, b, 2*time.Second)

	require.Eventually(t, func() bool {
		return *a.Quota().Concurrency == 5
	}, time.Second, 10*time.Millisecond)
}

// TestDistributedQuotaManager_BlockedDuringDiscovery verifies a
// non-FastStart instance reports a zero effective share until its
// discovery window elapses.
func TestDistributedQuotaManager_BlockedDuringDiscovery(t *testing.T) {
	broker := newFakeBroker()
	quota := Quota{Concurrency: IntQuota(10)}

	a := newTestDistributedManager(t, broker, "ch", quota, WithDiscoveryWindow(200*time.Millisecond))
	require.Equal(t, 0, *a.Quota().Concurrency)

	waitReady(t, a, 2*time.Second)
	require.Equal(t, 10, *a.Quota().Concurrency)
}

func TestNewDistributedQuotaManager_UnsupportedClient(t *testing.T) {
	_, err := NewDistributedQuotaManager(Quota{Concurrency: IntQuota(1)}, "ch", fakeUnduplicableClient{})
	var unsupported *UnsupportedClientError
	require.ErrorAs(t, err, &unsupported)
}

// TestNewDistributedQuotaManager_RedisIntegration exercises the real
// go-redis wire-level protocol end to end: NewDistributedQuotaManager
// duplicating a live *redis.Client's connection options into a dedicated
// subscriber via newSubscription, two instances discovering each other
// over an actual Redis pub/sub channel, and converging on a fair share.
func TestNewDistributedQuotaManager_RedisIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}

	channel := fmt.Sprintf("quota-limiter:it:%d", time.Now().UnixNano())
	quota := Quota{Concurrency: IntQuota(10)}

	a, err := NewDistributedQuotaManager(quota, channel, client, WithHeartbeatInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Unregister(ctx)
	}()

	b, err := NewDistributedQuotaManager(quota, channel, client, WithHeartbeatInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Unregister(ctx)
	}()

	select {
	case <-a.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for peer a to become ready")
	}
	select {
	case <-b.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for peer b to become ready")
	}

	require.Eventually(t, func() bool {
		return *a.Quota().Concurrency == 5 && *b.Quota().Concurrency == 5
	}, 3*time.Second, 20*time.Millisecond)
}
