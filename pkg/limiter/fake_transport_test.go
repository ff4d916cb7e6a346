package limiter

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// fakeBroker is an in-memory stand-in for a Redis pub/sub channel shared by
// several DistributedQuotaManager instances in the same process, letting
// the coordination protocol be exercised deterministically without a real
// Redis server.
type fakeBroker struct {
	mu   sync.Mutex
	subs map[string][]*fakeSubscription
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string][]*fakeSubscription)}
}

func (b *fakeBroker) subscribe(channel string) *fakeSubscription {
	s := &fakeSubscription{ch: make(chan *redis.Message, 64)}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mu.Unlock()
	return s
}

func (b *fakeBroker) publish(channel, payload string) {
	b.mu.Lock()
	subs := append([]*fakeSubscription{}, b.subs[channel]...)
	b.mu.Unlock()
	for _, s := range subs {
		s.deliver(channel, payload)
	}
}

// newPeer wires a fake publisher and a dedicated subscription into the
// broker on channel, the shape NewDistributedQuotaManager would produce
// from a real Redis client.
func (b *fakeBroker) newPeer(channel string) (publisher, subscription) {
	return &fakePublisher{broker: b}, b.subscribe(channel)
}

type fakeSubscription struct {
	mu     sync.Mutex
	ch     chan *redis.Message
	closed bool
}

func (s *fakeSubscription) deliver(channel, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- &redis.Message{Channel: channel, Payload: payload}:
	default:
	}
}

func (s *fakeSubscription) Channel(opts ...redis.ChannelOption) <-chan *redis.Message { return s.ch }

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

type fakePublisher struct {
	broker *fakeBroker
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	payload, ok := message.([]byte)
	if !ok {
		cmd.SetVal(0)
		return cmd
	}
	p.broker.publish(channel, string(payload))
	cmd.SetVal(1)
	return cmd
}

// fakeUnduplicableClient satisfies CoordinationClient but not duplicable,
// exercising the UnsupportedClientError path of NewDistributedQuotaManager.
type fakeUnduplicableClient struct{}

func (fakeUnduplicableClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	return redis.NewIntCmd(ctx)
}
