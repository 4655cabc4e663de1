// Package ratelimit provides per-key token buckets for outbound requests.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL = 10 * time.Minute
	sweepDivisor   = 2
	minSweepPeriod = time.Second
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter gives every key (usually a host) its own bucket.
// Buckets unused for the idle TTL are evicted by a background sweep.
type KeyedRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// Option customizes a KeyedRateLimiter.
type Option func(*KeyedRateLimiter)

// WithIdleTTL sets how long an unused bucket is kept.
func WithIdleTTL(d time.Duration) Option {
	return func(k *KeyedRateLimiter) {
		if d > 0 {
			k.idleTTL = d
		}
	}
}

// New creates a limiter allowing rps requests per second per key, with
// burst tokens available immediately.
func New(rps float64, burst int, opts ...Option) *KeyedRateLimiter {
	k := &KeyedRateLimiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: defaultIdleTTL,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}

	go k.sweepLoop(max(k.idleTTL/sweepDivisor, minSweepPeriod))
	return k
}

// Allow reports whether a request for key may proceed now.
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.get(key).Allow()
}

// Wait blocks until a request for key may proceed or ctx is done.
func (k *KeyedRateLimiter) Wait(ctx context.Context, key string) error {
	return k.get(key).Wait(ctx)
}

// Len returns the number of live buckets.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Stop ends the background sweep. Safe to call more than once.
func (k *KeyedRateLimiter) Stop() {
	k.stopOnce.Do(func() {
		close(k.done)
	})
}

func (k *KeyedRateLimiter) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = k.now()
	return e.limiter
}

// sweep drops buckets idle since before the TTL and returns how many.
func (k *KeyedRateLimiter) sweep() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := k.now().Add(-k.idleTTL)
	n := 0
	for key, e := range k.entries {
		if e.lastSeen.Before(cutoff) {
			delete(k.entries, key)
			n++
		}
	}
	return n
}

func (k *KeyedRateLimiter) sweepLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-k.done:
			return
		case <-ticker.C:
			k.sweep()
		}
	}
}
