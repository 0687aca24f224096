package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// tenantLimiter enforces a per-tenant token bucket on optimize calls.
type tenantLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &tenantLimiter{limiters: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
}

func (t *tenantLimiter) Allow(tenant string) bool {
	t.mu.Lock()
	l, ok := t.limiters[tenant]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.limiters[tenant] = l
	}
	t.mu.Unlock()
	return l.Allow()
}
