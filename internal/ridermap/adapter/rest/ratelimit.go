package rest

import (
	"sync"
	"time"
)

const staleAfter = 10 * time.Minute

// RateLimiter is a per-key token bucket: capacity requests at once, one
// more every rate. Idle buckets are swept on use.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      time.Duration
	capacity  int
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

func NewRateLimiter(rate time.Duration, capacity int) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if rate <= 0 {
		rate = time.Second
	}
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		capacity: capacity,
		now:      time.Now,
	}
}

// Allow takes one token for key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.capacity, lastFill: now}
		rl.buckets[key] = b
	}

	if refill := int(now.Sub(b.lastFill) / rl.rate); refill > 0 {
		b.tokens = min(b.tokens+refill, rl.capacity)
		b.lastFill = b.lastFill.Add(time.Duration(refill) * rl.rate)
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < staleAfter {
		return
	}
	rl.lastSweep = now
	for key, b := range rl.buckets {
		if now.Sub(b.lastFill) > staleAfter {
			delete(rl.buckets, key)
		}
	}
}
