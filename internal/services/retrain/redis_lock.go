package retrain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/huangang/spamguard/pkg/logger"
)

// DefaultRedisLockKey is shared by every instance of the service.
const DefaultRedisLockKey = "spamguard:retrain:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a Locker shared across processes. The key expires after the
// timeout, which gives the same stale-lock recovery as the in-process Lock.
type RedisLock struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
	now     func() time.Time
}

func NewRedisLock(client redis.UniversalClient, key string, timeout time.Duration) *RedisLock {
	if key == "" {
		key = DefaultRedisLockKey
	}
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &RedisLock{client: client, key: key, timeout: timeout, now: time.Now}
}

func encodeLease(l Lease) string {
	return l.Token + "|" + strconv.FormatInt(l.StartedAt.UnixMilli(), 10)
}

func decodeLease(v string) (Lease, error) {
	token, ms, ok := strings.Cut(v, "|")
	if !ok {
		return Lease{}, fmt.Errorf("malformed lock value %q", v)
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return Lease{}, fmt.Errorf("malformed lock timestamp %q", v)
	}
	return Lease{Token: token, StartedAt: time.UnixMilli(n)}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (Lease, bool, error) {
	lease := Lease{Token: uuid.NewString(), StartedAt: l.now()}
	ok, err := l.client.SetNX(ctx, l.key, encodeLease(lease), l.timeout).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("acquire retrain lock: %w", err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	logger.Info().Str("token", lease.Token).Str("key", l.key).Msg("[RetrainLock] Shared lock acquired")
	return lease, true, nil
}

func (l *RedisLock) Release(ctx context.Context, lease Lease) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, encodeLease(lease)).Int()
	if err != nil {
		return fmt.Errorf("release retrain lock: %w", err)
	}
	if n == 0 {
		logger.Warn().Str("token", lease.Token).Msg("[RetrainLock] Release ignored, lease no longer held")
	}
	return nil
}

func (l *RedisLock) Status(ctx context.Context) (LockStatus, error) {
	v, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return LockStatus{}, nil
	}
	if err != nil {
		return LockStatus{}, err
	}
	lease, err := decodeLease(v)
	if err != nil {
		return LockStatus{}, err
	}
	return LockStatus{Running: true, StartedAt: lease.StartedAt}, nil
}
