package devserver

import (
	"sync"
	"time"
)

// messagesPerMinute caps chat sends per participant. Typing and
// heartbeat frames are not counted.
const messagesPerMinute = 100

type clientLimit struct {
	count       int
	windowStart time.Time
}

// RateLimiter enforces a fixed per-minute send budget per user.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{clients: make(map[string]*clientLimit)}
}

// Allow reports whether the user may send another message in the
// current window.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	limit, exists := rl.clients[userID]
	if !exists || now.Sub(limit.windowStart) >= time.Minute {
		rl.clients[userID] = &clientLimit{count: 1, windowStart: now}
		return true
	}
	if limit.count >= messagesPerMinute {
		return false
	}
	limit.count++
	return true
}

// Cleanup drops users idle for several windows. Call periodically.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, userID)
		}
	}
}
