package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by TryLock when another holder owns the key.
var ErrLockHeld = errors.New("lock: held by another holder")

// unlockLua deletes the lock key only if it still holds the caller's token,
// so an expired holder cannot release a lock someone else acquired since.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	DefaultTTL           = 10 * time.Second
	DefaultRetryInterval = 20 * time.Millisecond
)

// RedisLocker is a distributed Locker built on SET NX with a TTL and a
// token-checked Lua unlock.
type RedisLocker struct {
	rdb      redis.UniversalClient
	unlockSc *redis.Script
	prefix   string

	TTL           time.Duration
	RetryInterval time.Duration
}

// NewRedisLocker creates a RedisLocker. Keys are stored as prefix + key.
func NewRedisLocker(rdb redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "prophet:lock:"
	}
	return &RedisLocker{
		rdb:           rdb,
		unlockSc:      redis.NewScript(unlockLua),
		prefix:        prefix,
		TTL:           DefaultTTL,
		RetryInterval: DefaultRetryInterval,
	}
}

// TryLock makes a single acquisition attempt.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lk := l.prefix + key

	ok, err := l.rdb.SetNX(ctx, lk, token, l.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Lock polls TryLock until the lock is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(l.RetryInterval)
	defer ticker.Stop()
	for {
		unlock, err := l.TryLock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ Locker = (*RedisLocker)(nil)
