package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedKeys caps the number of tracked rate-limit keys so rotating
// source addresses cannot exhaust memory.
const maxTrackedKeys = 4096

// WebhookRateLimiter applies a per-key token bucket to inbound webhook
// calls. Keys are remote addresses (or instance names behind a proxy).
// Safe for concurrent use.
type WebhookRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	enabled  bool
}

// NewWebhookRateLimiter creates a limiter allowing rpm requests per
// minute per key, with a small burst.
// rpm == 0 → default of 60; rpm < 0 → disabled.
func NewWebhookRateLimiter(rpm int) *WebhookRateLimiter {
	if rpm < 0 {
		return &WebhookRateLimiter{enabled: false}
	}
	if rpm == 0 {
		rpm = 60
	}
	burst := rpm / 6
	if burst < 5 {
		burst = 5
	}
	return &WebhookRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(rpm) / 60.0),
		burst:    burst,
		enabled:  true,
	}
}

// Enabled reports whether limiting is active.
func (r *WebhookRateLimiter) Enabled() bool { return r.enabled }

// Allow reports whether the key may proceed now.
func (r *WebhookRateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lim, ok := r.limiters[key]
	if !ok {
		// Hard eviction at the cap; map iteration order gives an
		// arbitrary victim, which is acceptable for abuse control.
		if len(r.limiters) >= maxTrackedKeys {
			for k := range r.limiters {
				delete(r.limiters, k)
				break
			}
		}
		lim = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = lim
	}

	return lim.Allow()
}
