package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	m     map[string]*rate.Limiter
}

// New returns a limiter allowing perSecond events per key with the given
// burst. perSecond <= 0 disables limiting.
func New(perSecond float64, burst int) *Limiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Limiter{limit: limit, burst: max(burst, 1), m: make(map[string]*rate.Limiter)}
}

// Allow reports whether one event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	return l.AllowAt(key, time.Now())
}

func (l *Limiter) AllowAt(key string, now time.Time) bool {
	if l.limit == rate.Inf {
		return true
	}
	return l.get(key).AllowN(now, 1)
}

// Len is the number of keys seen.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.m[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.m[key] = b
	}
	return b
}
