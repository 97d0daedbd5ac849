package leadguard

import (
	"time"

	"github.com/oarkflow/log"
)

// Limiter defaults. A tight base limit makes the lockout path the common
// case for any automated retry loop, while the lockout stays short enough
// not to permanently ban a legitimate user who mistyped a field twice.
const (
	DefaultWindow          = time.Minute
	DefaultMaxRequests     = 2
	DefaultMaxFailures     = 5
	DefaultLockoutDuration = 10 * time.Minute
)

// Limiter is the adaptive per-identity rate limiter: a sliding request
// window plus an escalating failure lockout. All read-modify-write sequences
// for one identity run under that identity's key lock.
type Limiter struct {
	store GuardStore
	locks keyMutex
	clock func() time.Time

	window          time.Duration
	maxRequests     int
	maxFailures     int
	lockoutDuration time.Duration

	logger  *log.Logger
	metrics MetricsCollector
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimiterClock overrides the wall clock, for tests.
func WithLimiterClock(clock func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLimits overrides the window size and request ceiling.
func WithLimits(window time.Duration, maxRequests int) LimiterOption {
	return func(l *Limiter) {
		if window > 0 {
			l.window = window
		}
		if maxRequests > 0 {
			l.maxRequests = maxRequests
		}
	}
}

// WithLockout overrides the failure threshold and lockout duration.
func WithLockout(maxFailures int, duration time.Duration) LimiterOption {
	return func(l *Limiter) {
		if maxFailures > 0 {
			l.maxFailures = maxFailures
		}
		if duration > 0 {
			l.lockoutDuration = duration
		}
	}
}

// WithLimiterLogger sets the structured logger.
func WithLimiterLogger(logger *log.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithLimiterMetrics sets the metrics collector.
func WithLimiterMetrics(m MetricsCollector) LimiterOption {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// NewLimiter creates a limiter over the given store.
func NewLimiter(store GuardStore, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:           store,
		clock:           time.Now,
		window:          DefaultWindow,
		maxRequests:     DefaultMaxRequests,
		maxFailures:     DefaultMaxFailures,
		lockoutDuration: DefaultLockoutDuration,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndRecord admits or rejects one submission attempt for the identity.
// Order matters: an active lockout denies without touching the window; an
// expired lockout record is cleared; then the window is pruned, and a full
// window both denies and counts as a failure.
func (l *Limiter) CheckAndRecord(id string) (bool, error) {
	l.locks.Lock(id)
	defer l.locks.Unlock(id)

	now := l.clock()
	window, lockout, err := l.store.Snapshot(id)
	if err != nil {
		return false, err
	}

	if lockout != nil {
		if l.lockedOut(lockout, now) {
			return false, nil
		}
		if now.Sub(lockout.LastFailureAt) >= l.lockoutDuration {
			lockout = nil
		}
	}

	window = pruneWindow(window, now, l.window)

	if len(window) >= l.maxRequests {
		lockout = l.bumpFailure(id, lockout, now)
		if err := l.store.Commit(id, window, lockout); err != nil {
			return false, err
		}
		return false, nil
	}

	window = append(window, now)
	if err := l.store.Commit(id, window, lockout); err != nil {
		return false, err
	}
	return true, nil
}

// RecordFailure counts a rejection of any kind toward the identity's
// lockout. Conflating causes is deliberate: it raises the cost of probing.
func (l *Limiter) RecordFailure(id string) error {
	l.locks.Lock(id)
	defer l.locks.Unlock(id)

	now := l.clock()
	window, lockout, err := l.store.Snapshot(id)
	if err != nil {
		return err
	}
	if lockout != nil && now.Sub(lockout.LastFailureAt) >= l.lockoutDuration {
		lockout = nil
	}
	lockout = l.bumpFailure(id, lockout, now)
	return l.store.Commit(id, window, lockout)
}

// Status reports which of the three states the identity is in right now,
// computed on demand from stored state, never cached.
func (l *Limiter) Status(id string) (IdentityStatus, error) {
	l.locks.Lock(id)
	defer l.locks.Unlock(id)

	now := l.clock()
	window, lockout, err := l.store.Snapshot(id)
	if err != nil {
		return StatusUnrestricted, err
	}
	if lockout != nil && l.lockedOut(lockout, now) {
		return StatusLockedOut, nil
	}
	if len(pruneWindow(window, now, l.window)) >= l.maxRequests {
		return StatusRateLimited, nil
	}
	return StatusUnrestricted, nil
}

// IdentityStatus is the tri-state a client identity occupies at any instant.
type IdentityStatus string

const (
	StatusUnrestricted IdentityStatus = "unrestricted"
	StatusRateLimited  IdentityStatus = "rate_limited"
	StatusLockedOut    IdentityStatus = "locked_out"
)

func (l *Limiter) lockedOut(lockout *LockoutRecord, now time.Time) bool {
	return lockout.FailureCount >= l.maxFailures && now.Sub(lockout.LastFailureAt) < l.lockoutDuration
}

func (l *Limiter) bumpFailure(id string, lockout *LockoutRecord, now time.Time) *LockoutRecord {
	if lockout == nil {
		lockout = &LockoutRecord{}
	}
	lockout.FailureCount++
	lockout.LastFailureAt = now
	if lockout.FailureCount == l.maxFailures {
		if l.metrics != nil {
			l.metrics.IncrementCounter("inquiry_lockouts_total", nil)
		}
		if l.logger != nil {
			l.logger.Warn().Str("client", id).Int("failures", lockout.FailureCount).Msg("client locked out")
		}
	}
	return lockout
}

func pruneWindow(window []time.Time, now time.Time, size time.Duration) []time.Time {
	cutoff := now.Add(-size)
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
