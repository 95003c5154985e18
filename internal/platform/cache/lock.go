package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy is returned when another process holds the lock.
var ErrLockBusy = errors.New("platform/cache: lock busy")

// Locker serialises critical sections across processes.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewLocker builds a Locker. Locks expire after ttl; Acquire retries for up
// to wait before giving up.
func NewLocker(client redis.UniversalClient, ttl, wait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: redislock.New(client), ttl: ttl, wait: wait}
}

// Acquire obtains key and returns the function releasing it.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	opts := &redislock.Options{}
	if l.wait > 0 {
		attempts := int(l.wait / (100 * time.Millisecond))
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), attempts)
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockBusy
	}
	if err != nil {
		return nil, fmt.Errorf("platform/cache: obtain %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
