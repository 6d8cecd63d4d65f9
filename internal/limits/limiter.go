package limits

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter errors surfaced on rejected requests. They carry no user data and
// are mapped to user-visible messages by the caller.
var (
	ErrRateLimited         = errors.New("limits: too many requests in window")
	ErrConcurrencyExceeded = errors.New("limits: too many concurrent requests")
)

const defaultWindow = time.Minute

// record tracks one user's requests within the current window.
type record struct {
	count       int
	windowStart time.Time
}

// Limiter combines a per-user fixed 60s window counter with a global
// in-flight request gate. The in-flight counter is the only value shared
// across conversations and is maintained with atomic operations.
type Limiter struct {
	maxPerWindow  int
	maxConcurrent int64
	window        time.Duration

	mu      sync.Mutex
	records map[string]*record

	inFlight atomic.Int64

	now func() time.Time
}

func New(requestsPerMinute, maxConcurrent int) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Limiter{
		maxPerWindow:  requestsPerMinute,
		maxConcurrent: int64(maxConcurrent),
		window:        defaultWindow,
		records:       make(map[string]*record),
		now:           time.Now,
	}
}

// Admit reports whether the user may issue another request in the current
// window. A fresh or expired window starts a new record with count=1; a
// full window rejects without incrementing.
func (l *Limiter) Admit(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r, ok := l.records[userID]
	if !ok || now.Sub(r.windowStart) > l.window {
		l.records[userID] = &record{count: 1, windowStart: now}
		return true
	}
	if r.count >= l.maxPerWindow {
		return false
	}
	r.count++
	return true
}

// Acquire reserves one slot of the global concurrency budget. The returned
// release function must be called on every exit path; it is safe to call
// exactly once.
func (l *Limiter) Acquire() (release func(), err error) {
	if l.inFlight.Add(1) > l.maxConcurrent {
		l.inFlight.Add(-1)
		return nil, ErrConcurrencyExceeded
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.inFlight.Add(-1) })
	}, nil
}

// InFlight returns the current number of reserved concurrency slots.
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}

// Cleanup drops records whose window has been expired for more than one
// window length, bounding memory for one-off users.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-2 * l.window)
	for id, r := range l.records {
		if r.windowStart.Before(cutoff) {
			delete(l.records, id)
		}
	}
}

// RunCleanup calls Cleanup on the given interval until ctx is cancelled.
func (l *Limiter) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultWindow
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
