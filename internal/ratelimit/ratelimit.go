// Package ratelimit provides a per-key minimum-interval limiter. It guards
// operations that are cheap to request but expensive to serve, such as
// conversation reloads, by refusing to repeat them within a cooldown window.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most one event per key per interval.
type Limiter struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// New builds a limiter with the given minimum interval between events.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether an event for key may proceed, and records it if so.
// A denied event does not reset the window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.last[key]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.last[key] = now
	return true
}

// Reset forgets the key so the next event is allowed immediately.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.last, key)
	l.mu.Unlock()
}
