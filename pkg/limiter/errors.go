package limiter

import (
	"fmt"
	"time"
)

// RateLimitTimeoutError is returned by Limiter.Schedule when a waiter's
// queue wait exceeds the Quota's MaxDelay. Callers should match on type via
// errors.As rather than on the message text.
type RateLimitTimeoutError struct {
	// Waited is how long the operation sat in the queue before it was
	// rejected.
	Waited time.Duration
	// MaxDelay is the deadline that was exceeded.
	MaxDelay time.Duration
}

func (e *RateLimitTimeoutError) Error() string {
	return fmt.Sprintf("rate limiter: queue wait %s exceeded max delay %s", e.Waited, e.MaxDelay)
}

// UnsupportedClientError is returned by NewDistributedQuotaManager when the
// supplied client cannot produce an independent subscriber connection.
// Publisher and subscriber must be logically distinct because most pub/sub
// clients block non-subscription commands on a subscribed connection.
type UnsupportedClientError struct {
	Reason string
}

func (e *UnsupportedClientError) Error() string {
	return fmt.Sprintf("rate limiter: unsupported coordination client: %s", e.Reason)
}
