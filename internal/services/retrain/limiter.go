package retrain

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRetrainInterval allows one retrain request per identity per hour.
const DefaultRetrainInterval = time.Hour

type identityLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter caps retrain requests per caller identity. It is independent of
// the Locker: a free lock does not lift the limit.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*identityLimiter
	every    time.Duration
	now      func() time.Time
}

func NewLimiter(every time.Duration) *Limiter {
	if every <= 0 {
		every = DefaultRetrainInterval
	}
	return &Limiter{
		limiters: make(map[string]*identityLimiter),
		every:    every,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Allow consumes the identity's token if one is available.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	v, ok := l.limiters[identity]
	if !ok {
		v = &identityLimiter{limiter: rate.NewLimiter(rate.Every(l.every), 1)}
		l.limiters[identity] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RetryAfter is how long identity must wait for its next token.
func (l *Limiter) RetryAfter(identity string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.limiters[identity]
	if !ok {
		return 0
	}
	now := l.now()
	r := v.limiter.ReserveN(now, 1)
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return d
}

// prune drops identities idle long enough to have a full bucket again.
func (l *Limiter) prune(now time.Time) {
	for id, v := range l.limiters {
		if now.Sub(v.lastSeen) > 2*l.every {
			delete(l.limiters, id)
		}
	}
}
