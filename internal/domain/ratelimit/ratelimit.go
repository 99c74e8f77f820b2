// Package ratelimit implements the per-connection token bucket (C5): each
// connection gets its own limiter so one abusive client cannot starve
// others, and a rejected message is reported back as a structured decision
// rather than silently dropped.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Config tunes the bucket shared by every connection's limiter.
type Config struct {
	// RatePerSecond is the sustained message rate a connection may send.
	RatePerSecond float64
	// Burst is the maximum number of messages admitted in a single instant.
	Burst int
}

func DefaultConfig() Config {
	return Config{RatePerSecond: 20, Burst: 40}
}

// Decision is returned on every Allow call for telemetry and for the
// error envelope sent back to a throttled client.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter tracks one token bucket per connection id.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[uuid.UUID]*rate.Limiter
}

func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, buckets: make(map[uuid.UUID]*rate.Limiter)}
}

func (l *Limiter) bucketFor(id uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[id]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.RatePerSecond), l.cfg.Burst)
		l.buckets[id] = b
	}
	return b
}

// Allow reports whether connID may send one more message right now.
func (l *Limiter) Allow(connID uuid.UUID) Decision {
	b := l.bucketFor(connID)
	r := b.ReserveN(time.Now(), 1)
	if !r.OK() {
		return Decision{Allowed: false}
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

// Forget releases a connection's bucket once it is unregistered, so the
// map does not grow unbounded across the lifetime of a process.
func (l *Limiter) Forget(connID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, connID)
}

// Size returns the number of tracked buckets, for telemetry.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
