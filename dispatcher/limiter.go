package dispatcher

import (
	"sync"

	"golang.org/x/time/rate"
)

// GroupLimit configures a local token-bucket limit for one group.
type GroupLimit struct {
	// Group is the group name.
	Group string
	// RateLimit is the maximum sustained claims per second from this
	// group. Zero disables rate limiting.
	RateLimit float64
	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set and RateBurst is zero.
	RateBurst int
}

// Limiter applies per-group claim rate limits local to one dispatcher.
// It supplements the database-side concurrency caps: caps bound how
// much runs at once, the limiter bounds how fast one process starts
// new work. Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter creates a Limiter from the given limits. Groups not
// listed are unlimited.
func NewLimiter(limits ...GroupLimit) *Limiter {
	l := &Limiter{limiters: make(map[string]*rate.Limiter, len(limits))}
	for _, lim := range limits {
		if lim.RateLimit <= 0 {
			continue
		}
		burst := lim.RateBurst
		if burst <= 0 {
			burst = 1
		}
		l.limiters[lim.Group] = rate.NewLimiter(rate.Limit(lim.RateLimit), burst)
	}
	return l
}

// Allow reports whether a claim from the group may proceed now.
func (l *Limiter) Allow(group string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[group]
	if !ok {
		return true
	}
	return lim.Allow()
}
