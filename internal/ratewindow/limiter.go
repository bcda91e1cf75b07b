package ratewindow

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long a category's bucket survives without an Allow call
// before cleanup reclaims it.
const idleTTL = 10 * time.Minute

// entry pairs a per-category token bucket with the last time it was used,
// so cleanup can tell an idle category from an active one.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter grants at most burst events immediately per category, refilling
// at r events/sec, independent per category. A background goroutine evicts
// categories idle for longer than idleTTL so a runtime that sees many
// distinct tokens over its lifetime does not leak buckets for ones it will
// never see again.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	r       rate.Limit
	burst   int
}

// NewLimiter constructs a Limiter allowing burst events immediately per
// category, refilling at r events/sec thereafter.
func NewLimiter(r rate.Limit, burst int) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		r:       r,
		burst:   burst,
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether an event for category may proceed right now,
// consuming a token from its bucket if so.
func (l *Limiter) Allow(category string) bool {
	l.mu.Lock()
	e, ok := l.entries[category]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.r, l.burst)}
		l.entries[category] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(idleTTL / 2)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-idleTTL)
		l.mu.Lock()
		for category, e := range l.entries {
			if e.lastSeen.Before(cutoff) {
				delete(l.entries, category)
			}
		}
		l.mu.Unlock()
	}
}
