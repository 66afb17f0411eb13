package fluxbot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gates messages per user on a minimum interval. The
// check-and-record is a single atomic step: of two near-simultaneous
// messages from one user, exactly one passes.
//
// Entries are never evicted; per-user state is one token bucket, and the
// population of a community server keeps the map small enough in practice.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	users    map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter allowing one message per interval
// per user.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		users:    map[string]*rate.Limiter{},
	}
}

// CheckAndRecord reports whether a message from userID at the given time is
// accepted. The first message from a user is always accepted; afterwards a
// message is accepted only once the interval has elapsed since the last
// accepted one. Rejected calls leave the user's state unchanged.
func (r *RateLimiter) CheckAndRecord(userID string, now time.Time) bool {
	r.mu.Lock()
	limiter, ok := r.users[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(r.interval), 1)
		r.users[userID] = limiter
	}
	r.mu.Unlock()

	return limiter.AllowN(now, 1)
}
