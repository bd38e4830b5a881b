package checkpoint

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle bounds authentication attempts per credential per time
// window. A mismatched biometric cannot be retried inside an attempt,
// so this is the only brute-force surface left: restarting the whole
// sequence card-tap by card-tap.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	limit    rate.Limit
	burst    int
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const throttleIdleEviction = 30 * time.Minute

// NewThrottle allows attempts presentations of one credential per
// window, with the window's full budget available up front.
func NewThrottle(attempts int, window time.Duration) *Throttle {
	if attempts <= 0 || window <= 0 {
		return nil // unlimited; the caller treats nil as no throttle
	}
	return &Throttle{
		limiters: make(map[string]*throttleEntry),
		limit:    rate.Every(window / time.Duration(attempts)),
		burst:    attempts,
	}
}

// Allow reports whether another attempt for credentialID may proceed.
func (t *Throttle) Allow(credentialID string) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.limiters[credentialID]
	if !ok {
		// Drop limiters for credentials not seen in a while before
		// admitting a new one, keeping the map bounded by live traffic.
		for id, old := range t.limiters {
			if now.Sub(old.lastSeen) > throttleIdleEviction {
				delete(t.limiters, id)
			}
		}
		e = &throttleEntry{lim: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[credentialID] = e
	}
	e.lastSeen = now
	return e.lim.Allow()
}
