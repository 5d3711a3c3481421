package hub

import "time"

// windowLimiter is a fixed-window request counter. The window opens at the first request and
// resets once it has fully elapsed. Denied requests still count. Not safe for concurrent use;
// each connection's read loop owns its limiter.
type windowLimiter struct {
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{limit: limit, window: window}
}

func (l *windowLimiter) allow(now time.Time) bool {
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	l.count++
	return l.count <= l.limit
}
