// Package ratelimit enforces per-caller admission limits: a daily token
// budget and a sliding-window requests-per-minute cap.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"assistgate/internal/domain"
)

const windowSize = 60 * time.Second

// Options configures a Limiter
type Options struct {
	DailyTokenLimit      int64
	MaxRequestsPerMinute int
	Now                  func() time.Time // overridable for tests
}

// Limiter tracks per-key usage. Keys from different callers never share
// state and never block each other.
type Limiter struct {
	mu      sync.Mutex // guards the buckets map only
	buckets map[string]*bucket

	dailyLimit int64
	rpm        int
	now        func() time.Time
}

// bucket holds one caller key's state under its own lock
type bucket struct {
	mu          sync.Mutex
	day         string // yyyy-mm-dd the token counter covers
	tokensToday int64
	requests    []time.Time
}

// New creates a Limiter
func New(opts Options) *Limiter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Limiter{
		buckets:    make(map[string]*bucket),
		dailyLimit: opts.DailyTokenLimit,
		rpm:        opts.MaxRequestsPerMinute,
		now:        opts.Now,
	}
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	return b
}

// CheckAdmission reports whether a request from the given caller key may
// proceed. The daily token budget is checked first, then the trailing
// 60-second request window. Admission does not count as a request;
// recording happens via RecordUsage after a successful downstream call.
func (l *Limiter) CheckAdmission(key string) error {
	now := l.now()
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(now)

	if b.tokensToday >= l.dailyLimit {
		return &domain.RateLimitError{
			Reason: fmt.Sprintf("daily token limit of %d reached, resets at midnight", l.dailyLimit),
			Scope:  "daily_budget",
		}
	}

	b.pruneWindow(now)
	if len(b.requests) >= l.rpm {
		return &domain.RateLimitError{
			Reason: "too many requests, please slow down and try again in a moment",
			Scope:  "requests_per_minute",
		}
	}

	return nil
}

// RecordUsage counts a completed request: one timestamp in the sliding
// window and the actual tokens consumed against the daily budget.
func (l *Limiter) RecordUsage(key string, tokens int64) {
	now := l.now()
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(now)
	b.tokensToday += tokens
	b.pruneWindow(now)
	b.requests = append(b.requests, now)
}

// TokensToday returns the tokens consumed today by a caller key
func (l *Limiter) TokensToday(key string) int64 {
	now := l.now()
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(now)
	return b.tokensToday
}

// Reset clears all per-key state
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}

// rollover zeroes the daily counter when the stored date differs from
// today. Must be called with the bucket lock held.
func (b *bucket) rollover(now time.Time) {
	today := now.Format("2006-01-02")
	if b.day != today {
		b.day = today
		b.tokensToday = 0
	}
}

// pruneWindow drops timestamps older than the trailing window. Must be
// called with the bucket lock held.
func (b *bucket) pruneWindow(now time.Time) {
	cutoff := now.Add(-windowSize)
	kept := b.requests[:0]
	for _, ts := range b.requests {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.requests = kept
}
