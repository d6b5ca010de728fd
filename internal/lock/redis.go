// Package lock provides the lease that keeps pipeline runs from overlapping
// across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lease
var ErrNotAcquired = errors.New("lock held by another run")

// releaseScript deletes the key only while it still holds our token
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Locker acquires a named lease
type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is a held lock
type Lease interface {
	Release(ctx context.Context) error
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release
type RedisLocker struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	token  func() string
}

// NewRedisLocker creates a locker for key. The lease expires after ttl even
// if the holder dies without releasing it.
func NewRedisLocker(client redis.Cmdable, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString,
	}
}

// Acquire takes the lease or returns ErrNotAcquired
func (l *RedisLocker) Acquire(ctx context.Context) (Lease, error) {
	token := l.token()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisLease{client: l.client, key: l.key, token: token}, nil
}

type redisLease struct {
	client redis.Cmdable
	key    string
	token  string
}

// Release deletes the key if this lease still owns it. A lease that already
// expired and was taken by someone else is left alone.
func (r *redisLease) Release(ctx context.Context) error {
	n, err := r.client.Eval(ctx, releaseScript, []string{r.key}, r.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s expired before release: %w", r.key, ErrNotAcquired)
	}
	return nil
}

// Noop is a Locker that always succeeds, used when no Redis is configured
type Noop struct{}

// Acquire implements Locker
func (Noop) Acquire(context.Context) (Lease, error) {
	return noopLease{}, nil
}

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }
