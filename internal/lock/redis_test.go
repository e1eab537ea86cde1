package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/short-link/internal/lock"
	"github.com/koopa0/system-design/short-link/internal/testutils"
)

func TestRedisLocker(t *testing.T) {
	env := testutils.SetupRedis(t)
	ctx := context.Background()

	t.Run("try-lock 互斥", func(t *testing.T) {
		env.FlushRedis(t)
		a := lock.NewRedis(env.RedisClient, 10*time.Millisecond)
		b := lock.NewRedis(env.RedisClient, 10*time.Millisecond)

		lease, ok, err := a.TryAcquire(ctx, "shortlink:lock:create", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = b.TryAcquire(ctx, "shortlink:lock:create", time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, lease.Release(ctx))

		lease, ok, err = b.TryAcquire(ctx, "shortlink:lock:create", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, lease.Release(ctx))
	})

	t.Run("等待逾時", func(t *testing.T) {
		env.FlushRedis(t)
		l := lock.NewRedis(env.RedisClient, 10*time.Millisecond)

		lease, err := l.Acquire(ctx, "k", time.Second, 0)
		require.NoError(t, err)
		defer lease.Release(ctx)

		_, err = l.Acquire(ctx, "k", time.Second, 50*time.Millisecond)
		assert.ErrorIs(t, err, lock.ErrTimeout)
	})

	t.Run("租約過期後不會誤刪他人的鎖", func(t *testing.T) {
		env.FlushRedis(t)
		l := lock.NewRedis(env.RedisClient, 10*time.Millisecond)

		stale, err := l.Acquire(ctx, "k", 50*time.Millisecond, 0)
		require.NoError(t, err)

		current, err := l.Acquire(ctx, "k", time.Second, time.Second)
		require.NoError(t, err)

		assert.ErrorIs(t, stale.Release(ctx), lock.ErrNotHeld)

		_, ok, err := l.TryAcquire(ctx, "k", time.Second)
		require.NoError(t, err)
		assert.False(t, ok, "目前持有者的鎖不應被釋放")
		require.NoError(t, current.Release(ctx))
	})

	t.Run("臨界區互斥", func(t *testing.T) {
		env.FlushRedis(t)
		l := lock.NewRedis(env.RedisClient, 5*time.Millisecond)

		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lease, err := l.Acquire(ctx, "critical", time.Second, 5*time.Second)
				if !assert.NoError(t, err) {
					return
				}
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				assert.NoError(t, lease.Release(ctx))
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxInside.Load())
	})
}

func TestRedisRWLocker(t *testing.T) {
	env := testutils.SetupRedis(t)
	ctx := context.Background()
	l := lock.NewRedis(env.RedisClient, 10*time.Millisecond)

	t.Run("讀鎖相容", func(t *testing.T) {
		env.FlushRedis(t)

		r1, err := l.RLock(ctx, "shortlink:lock:gid-update:s.example/abc", time.Second, 0)
		require.NoError(t, err)
		r2, err := l.RLock(ctx, "shortlink:lock:gid-update:s.example/abc", time.Second, 0)
		require.NoError(t, err)

		_, err = l.Lock(ctx, "shortlink:lock:gid-update:s.example/abc", time.Second, 50*time.Millisecond)
		assert.ErrorIs(t, err, lock.ErrTimeout)

		require.NoError(t, r1.Release(ctx))
		require.NoError(t, r2.Release(ctx))

		w, err := l.Lock(ctx, "shortlink:lock:gid-update:s.example/abc", time.Second, time.Second)
		require.NoError(t, err)
		require.NoError(t, w.Release(ctx))
	})

	t.Run("寫鎖排斥讀鎖", func(t *testing.T) {
		env.FlushRedis(t)

		w, err := l.Lock(ctx, "rw", time.Second, 0)
		require.NoError(t, err)

		_, err = l.RLock(ctx, "rw", time.Second, 50*time.Millisecond)
		assert.ErrorIs(t, err, lock.ErrTimeout)

		require.NoError(t, w.Release(ctx))

		r, err := l.RLock(ctx, "rw", time.Second, time.Second)
		require.NoError(t, err)
		require.NoError(t, r.Release(ctx))
	})
}
