package limiter

import (
	"sync"
	"time"
)

// QuotaManager decides whether a pending call may start right now, and
// tracks in-flight calls so a later End() can release the slot it consumed.
// Implementations must be safe for concurrent use.
type QuotaManager interface {
	// TryStart evaluates the admission decision atomically: if admitted,
	// it increments the active count and records a start timestamp.
	TryStart(now time.Time) bool
	// End decrements the active count. It is tolerated without a
	// matching TryStart (clamped at zero) to keep the dispatcher robust
	// against double-release bugs.
	End()
	// ActiveCount reports the current in-flight count.
	ActiveCount() int
	// Quota reports the currently-effective Quota.
	Quota() Quota
}

// localQuotaManager is the in-process QuotaManager: a concurrency counter
// plus a sliding window of recent start timestamps. The window is a
// precise rate limiter — every start contributes one independently
// expiring token — rather than a fixed-interval bucket, so it composes
// cleanly with the concurrency cap without double-counting.
type localQuotaManager struct {
	mu sync.Mutex

	quota  Quota
	active int
	starts []time.Time
}

// NewLocalQuotaManager constructs a QuotaManager enforcing q directly, with
// no coordination with other instances.
func NewLocalQuotaManager(q Quota) *localQuotaManager {
	return &localQuotaManager{quota: q}
}

func (m *localQuotaManager) TryStart(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryStartLocked(now)
}

// tryStartLocked implements the admission decision described in the
// package's admission engine: concurrency first, then the rate window.
// Callers must hold m.mu.
func (m *localQuotaManager) tryStartLocked(now time.Time) bool {
	if m.quota.Concurrency != nil && m.active >= *m.quota.Concurrency {
		return false
	}

	if m.quota.Rate != nil {
		m.evictExpiredLocked(now)
		if len(m.starts) >= *m.quota.Rate {
			return false
		}
	}

	m.starts = append(m.starts, now)
	m.active++
	return true
}

// evictExpiredLocked drops every recorded start older than now - Interval.
// Callers must hold m.mu.
func (m *localQuotaManager) evictExpiredLocked(now time.Time) {
	cutoff := now.Add(-m.quota.Interval)
	i := 0
	for i < len(m.starts) && m.starts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.starts = append(m.starts[:0], m.starts[i:]...)
	}
}

func (m *localQuotaManager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active > 0 {
		m.active--
	}
}

func (m *localQuotaManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *localQuotaManager) Quota() Quota {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quota
}

// setQuota is used by DistributedQuotaManager to swap in a newly
// computed share. It does not touch active/starts: an instance that was
// running calls under a larger share keeps counting against the same
// window and concurrency counters when its share shrinks, so it never
// retroactively "forgets" what is in flight.
func (m *localQuotaManager) setQuota(q Quota) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = q
}
