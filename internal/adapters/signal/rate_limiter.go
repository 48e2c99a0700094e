package signal

import (
	"sync"
	"time"

	"github.com/dkeye/rifthub/internal/domain"
)

// RateLimiter is a per-connection sliding window. A zero limit allows
// everything.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ConnectionID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.ConnectionID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(cid domain.ConnectionID) bool {
	if rl.limit <= 0 || rl.interval <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[cid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[cid] = fresh
		return false
	}
	rl.history[cid] = append(fresh, now)
	return true
}

// Forget drops the window of a closed connection.
func (rl *RateLimiter) Forget(cid domain.ConnectionID) {
	rl.mu.Lock()
	delete(rl.history, cid)
	rl.mu.Unlock()
}
