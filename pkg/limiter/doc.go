// Package limiter provides a client-side rate limiter for outbound calls to
// rate-limited services, usable standalone or distributed across cooperating
// peers.
//
// The primary entry point is Limiter:
//
//	result, err := l.Schedule(ctx, func() (any, error) {
//		return callRateLimitedService()
//	})
//
// Schedule enqueues the operation, waits until admission is possible under
// the configured Quota, runs it, and returns its result. If the queue wait
// exceeds the Quota's MaxDelay, Schedule returns a RateLimitTimeoutError
// instead of running the operation at all.
//
// # Overview
//
// A Quota combines a concurrency cap (Concurrency), a sliding-window rate
// cap (Rate per Interval), and an optional queue deadline (MaxDelay). Either
// cap may be absent, producing a pure rate limiter, a pure concurrency
// limiter, both, or (with an empty Quota) a pass-through that logs one
// warning and never queues.
//
// The rate cap is a precise sliding window, not a fixed-interval bucket:
// every admitted start records its own timestamp and expires independently
// once it falls outside Interval. This composes cleanly with the
// concurrency cap without double-counting and gives exact windowed bounds.
//
// # Local vs distributed
//
// NewLimiter accepts a Quota directly (local admission only);
// NewLimiterFromManager accepts a prebuilt QuotaManager instead.
// DistributedQuotaManager implements QuotaManager by wrapping
// a local one and continuously replacing its Quota with a "share" computed
// from the live size of a peer group discovered over Redis pub/sub: the
// configured budget is divided by the number of cooperating instances, so N
// limiters sharing a channel collectively never exceed the configured Rate
// or Concurrency.
//
// # Concurrency model
//
// Each Limiter owns exactly one dispatcher goroutine that makes every
// admission and deadline decision; callers interact with it only through
// Schedule. The queue is guarded by the Limiter's mutex and the quota
// manager's counters by the manager's own lock. Each
// DistributedQuotaManager owns exactly one coordinator goroutine that
// handles all membership changes. Nothing in this package needs a
// caller-held lock.
//
// # Errors
//
// RateLimitTimeoutError is returned by Schedule when a queued operation's
// wait exceeds MaxDelay; the operation never runs in that case.
// UnsupportedClientError is returned by NewDistributedQuotaManager when the
// supplied Redis client cannot produce an independent subscriber
// connection. Any other error returned by Schedule is the operation's own
// error, propagated unchanged. Coordination transport errors are never
// returned to callers; they are logged and self-heal on the next
// heartbeat.
//
// # Usage
//
// For a runnable example, see ExampleLimiter in example_test.go.
package limiter
