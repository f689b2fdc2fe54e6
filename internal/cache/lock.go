package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RefreshLockKey is the key guarding the market refresh across replicas.
const RefreshLockKey = "lock:refresh"

// ErrLockHeld is returned when another owner holds the lock.
var ErrLockHeld = errors.New("lock held by another owner")

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another owner is never released by us.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Lock is a held Redis lock.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// AcquireLock takes key with SET NX PX. Returns ErrLockHeld on contention.
func (c *Cache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &Lock{client: c.client, key: key, token: token}, nil
}

// Release frees the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// RefreshLocker adapts the Redis lock to the refresh coordinator.
type RefreshLocker struct {
	cache *Cache
	ttl   time.Duration
}

// NewRefreshLocker creates a locker whose lock expires after ttl
// in case the holder dies mid-refresh.
func NewRefreshLocker(c *Cache, ttl time.Duration) *RefreshLocker {
	return &RefreshLocker{cache: c, ttl: ttl}
}

// TryLock takes the refresh lock. acquired is false on contention.
func (r *RefreshLocker) TryLock(ctx context.Context) (unlock func(context.Context) error, acquired bool, err error) {
	lock, err := r.cache.AcquireLock(ctx, RefreshLockKey, r.ttl)
	if errors.Is(err, ErrLockHeld) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lock.Release, true, nil
}
