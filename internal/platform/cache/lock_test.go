package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLockerExcludesConcurrentHolders(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client, time.Minute, 0)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "close:1:2024-01")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "close:1:2024-01")
	require.ErrorIs(t, err, ErrLockBusy)

	_, err = locker.Acquire(ctx, "close:1:2024-02")
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	again, err := locker.Acquire(ctx, "close:1:2024-01")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
