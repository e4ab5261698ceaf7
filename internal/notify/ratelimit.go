package notify

import (
	"sync"
	"time"
)

// channelWindow tracks a fixed 60-second window for one channel.
type channelWindow struct {
	count     int
	windowEnd time.Time
}

// RateLimiter implements per-channel fixed-window rate limiting. The window
// resets 60 seconds after its first delivery; an attempt over the limit is
// rejected, not queued.
type RateLimiter struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*channelWindow
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		window:  time.Minute,
		now:     time.Now,
		windows: make(map[string]*channelWindow),
	}
}

// Allow consumes one delivery slot for the channel. A limit of zero or less
// means the channel is unlimited.
func (rl *RateLimiter) Allow(channelID string, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[channelID]
	if !ok || now.After(w.windowEnd) {
		rl.windows[channelID] = &channelWindow{count: 1, windowEnd: now.Add(rl.window)}
		return true
	}

	if w.count >= limit {
		return false
	}
	w.count++
	return true
}
