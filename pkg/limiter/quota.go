package limiter

import (
	"errors"
	"time"
)

// ErrRateRequiresInterval is returned by Quota.Validate when Rate is set
// without a positive Interval, or vice versa.
var ErrRateRequiresInterval = errors.New("rate limiter: rate and interval must be set together")

// Quota is the immutable configuration record consumed by every quota
// manager. The zero Quota is a pure pass-through: no rate limit, no
// concurrency limit, no deadline.
//
// Rate and Concurrency are pointers so that "absent" (nil, meaning
// unbounded) can be distinguished from "set to zero" (always rejects).
// The latter arises naturally when a distributed share floors to zero.
type Quota struct {
	// Rate is the maximum number of starts allowed within Interval. Nil
	// means no rate limit.
	Rate *int
	// Interval is the sliding window length that Rate is measured over.
	// Required whenever Rate is non-nil, and must be zero when Rate is nil.
	Interval time.Duration
	// Concurrency is the maximum number of simultaneously in-flight
	// calls. Nil means unbounded.
	Concurrency *int
	// MaxDelay is the maximum time a call may wait in queue before it
	// is rejected with a RateLimitTimeoutError. Zero disables deadline
	// enforcement: waiters wait indefinitely.
	MaxDelay time.Duration
	// FastStart, meaningful only for distributed quota managers, makes
	// the instance accept work at full quota before peer discovery
	// completes, downshifting as peers are found.
	FastStart bool
}

// IntQuota returns a pointer to v, a convenience for building Quota
// literals such as Quota{Rate: IntQuota(10)}.
func IntQuota(v int) *int { return &v }

// HasRate reports whether a rate limit is configured.
func (q Quota) HasRate() bool { return q.Rate != nil }

// HasConcurrency reports whether a concurrency limit is configured.
func (q Quota) HasConcurrency() bool { return q.Concurrency != nil }

// HasDeadline reports whether queue-wait deadline enforcement is enabled.
func (q Quota) HasDeadline() bool { return q.MaxDelay > 0 }

// IsZero reports whether q carries no limit at all: neither a rate, nor a
// concurrency cap. Such a Quota makes the limiter a pass-through.
func (q Quota) IsZero() bool {
	return q.Rate == nil && q.Concurrency == nil
}

// Validate checks the Quota's internal invariants: if either Rate or
// Interval is set, both must be.
func (q Quota) Validate() error {
	if q.Rate != nil && q.Interval <= 0 {
		return ErrRateRequiresInterval
	}
	if q.Rate == nil && q.Interval != 0 {
		return ErrRateRequiresInterval
	}
	return nil
}

// withGroupSize returns the per-peer share of q for a group of the given
// size (self included). Interval, MaxDelay, and FastStart are copied
// unchanged; Rate and Concurrency are floor-divided by groupSize. Division
// deliberately floors to never exceed the configured budget when shares are
// summed across peers.
func (q Quota) withGroupSize(groupSize int) Quota {
	if groupSize < 1 {
		groupSize = 1
	}
	share := Quota{
		Interval:  q.Interval,
		MaxDelay:  q.MaxDelay,
		FastStart: q.FastStart,
	}
	if q.Rate != nil {
		share.Rate = IntQuota(*q.Rate / groupSize)
	}
	if q.Concurrency != nil {
		share.Concurrency = IntQuota(*q.Concurrency / groupSize)
	}
	return share
}

// blockedShare is the Quota reported while a distributed quota manager is
// still in the DISCOVERING state: concurrency is zero (so the dispatcher
// blocks) unless the configured Quota has no concurrency cap, in which case
// it stays unbounded; the same rule applies to rate. Admitting before the
// peer count is known would risk overshooting the global budget.
func (q Quota) blockedShare() Quota {
	blocked := Quota{
		Interval:  q.Interval,
		MaxDelay:  q.MaxDelay,
		FastStart: q.FastStart,
	}
	if q.Rate != nil {
		blocked.Rate = IntQuota(0)
	}
	if q.Concurrency != nil {
		blocked.Concurrency = IntQuota(0)
	}
	return blocked
}
