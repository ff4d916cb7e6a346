package limiter

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Limiter is the rate limiter facade. It accepts a user-supplied operation,
// enqueues it, periodically polls its QuotaManager, starts admitted
// operations, enforces each operation's queue-wait deadline, and delivers
// results.
//
// A Limiter constructed from an empty or absent Quota is a pass-through: it
// calls the operation immediately and emits a one-time warning. This is an
// escape hatch for callers that sometimes build a Limiter with no
// configured limit, not a mode callers should rely on intentionally.
type Limiter struct {
	cfg    limiterConfig
	quotas QuotaManager

	passThrough bool
	warnOnce    sync.Once

	mu      sync.Mutex
	queue   *list.List // of *pendingWaiter
	closed  bool
	closeCh chan struct{}

	wakeCh chan struct{}
	doneCh chan struct{}
}

// NewLimiter constructs a Limiter from a Quota, using a local in-process
// QuotaManager.
func NewLimiter(quota Quota, opts ...Option) (*Limiter, error) {
	if err := quota.Validate(); err != nil {
		return nil, err
	}
	return newLimiterWithManager(NewLocalQuotaManager(quota), quota.IsZero(), opts...), nil
}

// NewLimiterFromManager constructs a Limiter from a prebuilt QuotaManager,
// for example a DistributedQuotaManager.
func NewLimiterFromManager(qm QuotaManager, opts ...Option) *Limiter {
	return newLimiterWithManager(qm, false, opts...)
}

func newLimiterWithManager(qm QuotaManager, passThrough bool, opts ...Option) *Limiter {
	cfg := defaultLimiterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &Limiter{
		cfg:         cfg,
		quotas:      qm,
		passThrough: passThrough,
		queue:       list.New(),
		closeCh:     make(chan struct{}),
		wakeCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}
	if !passThrough {
		go l.dispatchLoop()
	} else {
		close(l.doneCh)
	}
	return l
}

// Schedule runs op under the Limiter's admission policy. It blocks until
// the operation is admitted and completes, until its queue wait exceeds
// the configured MaxDelay (returning a *RateLimitTimeoutError), or until
// ctx is cancelled (returning ctx.Err()). Operation errors are propagated
// unchanged.
func (l *Limiter) Schedule(ctx context.Context, op func() (any, error)) (any, error) {
	if l.passThrough {
		l.warnOnce.Do(func() {
			l.cfg.logger.Warn("rate limiter: constructed with an empty quota; operating as a pass-through")
		})
		return op()
	}

	now := l.cfg.clock.Now()
	w := newPendingWaiter(op, now, l.quotaMaxDelay())

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, context.Canceled
	}
	elem := l.queue.PushBack(w)
	depth := l.queue.Len()
	l.mu.Unlock()

	l.cfg.recorder.Add(metricScheduled, 1, nil)
	l.cfg.recorder.Observe(metricQueueDepth, float64(depth), nil)
	l.wake()

	select {
	case res := <-w.result:
		return res.value, res.err
	case <-ctx.Done():
		// If the waiter was still queued, cancelWaiter settles it with
		// ctx.Err() itself. If it had already been admitted, it is
		// running the operation in l.run, which will settle it with the
		// real outcome — ctx only bounds queue wait, never operation
		// runtime, so this blocks for that outcome rather than returning
		// ctx.Err() out from under a still-running operation.
		l.cancelWaiter(elem, w, ctx.Err())
		res := <-w.result
		return res.value, res.err
	}
}

func (l *Limiter) quotaMaxDelay() time.Duration {
	return l.quotas.Quota().MaxDelay
}

// cancelWaiter removes w from the queue if it is still there and, only in
// that case, settles it with err, mirroring how a deadline expiry is
// handled: removal happens under l.mu, the same lock runTick holds while
// examining the queue head, so it cannot race an admission. If w is not
// found, runTick has already admitted it and it is running in l.run,
// which owns settling it with the real outcome — forcing a cancellation
// settle here would race l.run's and silently discard whatever the
// operation returns.
func (l *Limiter) cancelWaiter(elem *list.Element, w *pendingWaiter, err error) bool {
	l.mu.Lock()
	removed := false
	for e := l.queue.Front(); e != nil; e = e.Next() {
		if e == elem {
			l.queue.Remove(e)
			removed = true
			break
		}
	}
	l.mu.Unlock()
	if removed {
		w.settle(nil, err)
	}
	return removed
}

func (l *Limiter) wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// Close stops the dispatcher goroutine. Waiters still queued are settled
// with context.Canceled. It does not affect an already-running operation.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.closeCh)
	l.mu.Unlock()
	<-l.doneCh
}

// dispatchLoop is the Limiter's single dispatcher goroutine: it is the only
// place TryStart is called and the only place waiters are admitted or
// expired. End is called by l.run when an admitted operation finishes. It
// wakes on a fixed dispatch tick, and early whenever Schedule enqueues a
// new waiter or a running operation finishes.
func (l *Limiter) dispatchLoop() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.cfg.dispatchTick)
	defer ticker.Stop()

	for {
		select {
		case <-l.closeCh:
			l.drainQueue()
			return
		case <-ticker.C:
			l.runTick()
		case <-l.wakeCh:
			l.runTick()
		}
	}
}

// runTick examines the queue head-first in FIFO order. Admission is always
// attempted before the deadline is consulted: a head that clears TryStart
// at the same instant its deadline would otherwise expire is admitted, not
// rejected. Only once TryStart fails does an expired head get rejected,
// advancing the queue on the same tick so one expired waiter never starves
// the next.
func (l *Limiter) runTick() {
	now := l.cfg.clock.Now()
	for {
		l.mu.Lock()
		front := l.queue.Front()
		if front == nil {
			l.mu.Unlock()
			return
		}
		w := front.Value.(*pendingWaiter)

		if l.quotas.TryStart(now) {
			l.queue.Remove(front)
			l.mu.Unlock()

			l.cfg.recorder.Add(metricAdmitted, 1, nil)
			l.cfg.recorder.Observe(metricQueueWait, now.Sub(w.enqueuedAt).Seconds(), nil)
			go l.run(w)
			continue
		}

		if w.expired(now) {
			l.queue.Remove(front)
			l.mu.Unlock()
			waited := now.Sub(w.enqueuedAt)
			w.settle(nil, &RateLimitTimeoutError{Waited: waited, MaxDelay: w.maxDelay})
			l.cfg.recorder.Add(metricTimedOut, 1, nil)
			continue
		}

		l.mu.Unlock()
		return
	}
}

// run executes an admitted waiter's operation outside the dispatch loop:
// the admission path never blocks on user code. The quota slot is released
// on completion or failure, exactly once.
func (l *Limiter) run(w *pendingWaiter) {
	value, err := w.operation()
	l.quotas.End()
	l.wake()
	if err != nil {
		l.cfg.recorder.Add(metricOpError, 1, nil)
	}
	w.settle(value, err)
}

// drainQueue settles every still-queued waiter with context.Canceled when
// the Limiter is closed.
func (l *Limiter) drainQueue() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for e := l.queue.Front(); e != nil; e = e.Next() {
		e.Value.(*pendingWaiter).settle(nil, context.Canceled)
	}
	l.queue.Init()
}
