package services

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether a keyed caller may proceed.
type RateLimiter interface {
	Allow(key string) bool
}

type userRateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	clock   func() time.Time

	mu       sync.Mutex
	limiters map[string]*userLimiter
	lastGC   time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPerMinuteRateLimiter allows perMinute requests per key with a matching burst.
// A non-positive rate disables limiting and returns nil.
func NewPerMinuteRateLimiter(perMinute int, clock func() time.Time) RateLimiter {
	return NewRateLimiter(perMinute, time.Minute, clock)
}

// NewRateLimiter allows events requests per key in every period, refilling
// one token each period/events. Keys idle for a full period are forgotten.
func NewRateLimiter(events int, period time.Duration, clock func() time.Time) RateLimiter {
	if events <= 0 || period <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	idleTTL := 10 * time.Minute
	if period > idleTTL {
		idleTTL = period
	}
	return &userRateLimiter{
		limit:    rate.Every(period / time.Duration(events)),
		burst:    events,
		idleTTL:  idleTTL,
		clock:    clock,
		limiters: make(map[string]*userLimiter),
	}
}

func (l *userRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		entry = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	if now.Sub(l.lastGC) > l.idleTTL {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > l.idleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}
	return allowed
}
