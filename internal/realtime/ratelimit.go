package realtime

import (
	"sync"
	"time"
)

// subscribeLimiter caps subscribe attempts per connection over a rolling
// window. Each key's slice is only written by its own connection goroutine;
// the mutex guards the map itself and the periodic sweep.
type subscribeLimiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
	now      func() time.Time
}

func newSubscribeLimiter(limit int, window time.Duration) *subscribeLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &subscribeLimiter{
		limit:    limit,
		window:   window,
		attempts: map[string][]time.Time{},
		now:      time.Now,
	}
}

// Allow records an attempt and reports whether the key is still under the
// limit for the rolling window.
func (l *subscribeLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.attempts[key][:0]
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.attempts[key] = kept
		return false
	}
	l.attempts[key] = append(kept, now)
	return true
}

// Reset drops all recorded attempts. Run hourly so the registry never grows
// past the set of connections seen in the last hour.
func (l *subscribeLimiter) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = map[string][]time.Time{}
}

// Forget releases one key on disconnect.
func (l *subscribeLimiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}
