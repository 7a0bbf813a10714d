package retrain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huangang/spamguard/pkg/logger"
)

// DefaultLockTimeout is when an unreleased lock counts as abandoned.
const DefaultLockTimeout = 30 * time.Minute

// Lease identifies one successful acquisition. Only the matching lease can
// release the lock, so a run that outlived its timeout cannot free a lock
// that was since taken over.
type Lease struct {
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
}

// LockStatus is a point-in-time view of the lock.
type LockStatus struct {
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Locker is a single-flight guard with timeout-based stale recovery.
// Acquire never blocks: ok=false means another run holds the lock.
type Locker interface {
	Acquire(ctx context.Context) (lease Lease, ok bool, err error)
	Release(ctx context.Context, lease Lease) error
	Status(ctx context.Context) (LockStatus, error)
}

// Lock is the in-process Locker.
type Lock struct {
	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time
	held    *Lease
}

func NewLock(timeout time.Duration) *Lock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Lock{timeout: timeout, now: time.Now}
}

// WithClock replaces the time source.
func (l *Lock) WithClock(now func() time.Time) *Lock {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

func (l *Lock) Acquire(ctx context.Context) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.held != nil {
		elapsed := now.Sub(l.held.StartedAt)
		if elapsed <= l.timeout {
			return Lease{}, false, nil
		}
		logger.Warn().Time("started_at", l.held.StartedAt).Dur("elapsed", elapsed).
			Msg("[RetrainLock] Lock exceeded timeout, releasing stale lock")
	}
	lease := Lease{Token: uuid.NewString(), StartedAt: now}
	l.held = &lease
	logger.Info().Str("token", lease.Token).Msg("[RetrainLock] Lock acquired")
	return lease, true, nil
}

func (l *Lock) Release(ctx context.Context, lease Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == nil || l.held.Token != lease.Token {
		logger.Warn().Str("token", lease.Token).Msg("[RetrainLock] Release ignored, lease no longer held")
		return nil
	}
	l.held = nil
	logger.Info().Dur("duration", l.now().Sub(lease.StartedAt)).Msg("[RetrainLock] Lock released")
	return nil
}

// Status reports a stale lock as not running.
func (l *Lock) Status(ctx context.Context) (LockStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == nil || l.now().Sub(l.held.StartedAt) > l.timeout {
		return LockStatus{}, nil
	}
	return LockStatus{Running: true, StartedAt: l.held.StartedAt}, nil
}
