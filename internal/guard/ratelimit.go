package guard

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter keeps a token bucket per arbitrary string key (e.g.
// "http:<ip>", "ws:<ip>"). Buckets hold maxTokens and refill at
// maxTokens/60 per second, i.e. per-minute limits.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates an empty limiter map.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*rate.Limiter)}
}

// Allow consumes one token from the bucket for key, creating the bucket on
// first use. Returns false without consuming when no full token is available.
func (r *RateLimiter) Allow(key string, maxTokens int) bool {
	if maxTokens <= 0 {
		return true
	}
	r.mu.Lock()
	lim, ok := r.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(maxTokens)/60.0), maxTokens)
		r.buckets[key] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

// Reset drops all buckets (used when limits change at runtime).
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = make(map[string]*rate.Limiter)
}
