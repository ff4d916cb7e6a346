package limiter

import (
	"context"
	"io"

	"github.com/redis/go-redis/v9"
)

// CoordinationClient is the minimal surface NewDistributedQuotaManager
// requires for publishing on the coordination channel. *redis.Client
// satisfies it.
type CoordinationClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// publisher is an alias kept for readability in this file's internals.
type publisher = CoordinationClient

// duplicable is implemented by clients that can produce a second,
// independent connection pool via their own construction options.
// *redis.Client satisfies it through its Options method. A client that
// does not implement this cannot give the coordinator a dedicated
// subscriber connection, and construction fails with
// UnsupportedClientError: most pub/sub clients block non-subscription
// commands on a subscribed connection, so publisher and subscriber must be
// logically distinct connections.
type duplicable interface {
	Options() *redis.Options
}

// subscription is the minimal surface the coordinator needs to receive
// messages on a dedicated connection.
type subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// newSubscription duplicates client's connection options into a fresh
// *redis.Client dedicated to subscribing on channel, and returns the
// resulting subscription plus a closer for the duplicated client itself.
// It returns UnsupportedClientError if client cannot be duplicated.
func newSubscription(client CoordinationClient, channel string) (subscription, io.Closer, error) {
	dup, ok := client.(duplicable)
	if !ok {
		return nil, nil, &UnsupportedClientError{
			Reason: "client does not expose Options() and cannot produce an independent subscriber connection",
		}
	}
	subClient := redis.NewClient(dup.Options())
	ps := subClient.Subscribe(context.Background(), channel)
	return ps, subClient, nil
}
