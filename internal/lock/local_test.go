package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/short-link/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_TryAcquire(t *testing.T) {
	ctx := context.Background()
	l := lock.NewLocal()

	lease, ok, err := l.TryAcquire(ctx, "create", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "create", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second try-lock must fail while held")

	_, ok, err = l.TryAcquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different keys are independent")

	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Release(ctx), lock.ErrNotHeld)

	_, ok, err = l.TryAcquire(ctx, "create", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocal_AcquireTimesOut(t *testing.T) {
	ctx := context.Background()
	l := lock.NewLocal()

	_, err := l.Acquire(ctx, "k", time.Minute, time.Second)
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Acquire(ctx, "k", time.Minute, 50*time.Millisecond)
	assert.ErrorIs(t, err, lock.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLocal_LeaseExpires(t *testing.T) {
	ctx := context.Background()
	l := lock.NewLocal()

	// 持有者不釋放，等待者在租約到期後取得
	_, err := l.Acquire(ctx, "k", 30*time.Millisecond, time.Second)
	require.NoError(t, err)

	lease, err := l.Acquire(ctx, "k", time.Minute, time.Second)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

func TestLocal_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := lock.NewLocal()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(ctx, "hot", time.Minute, 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, lease.Release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocal_ReadWrite(t *testing.T) {
	ctx := context.Background()
	l := lock.NewLocal()

	r1, err := l.RLock(ctx, "gid", time.Minute, time.Second)
	require.NoError(t, err)
	r2, err := l.RLock(ctx, "gid", time.Minute, time.Second)
	require.NoError(t, err, "readers share the lock")

	_, err = l.Lock(ctx, "gid", time.Minute, 30*time.Millisecond)
	assert.ErrorIs(t, err, lock.ErrTimeout, "writer waits for readers")

	require.NoError(t, r1.Release(ctx))
	require.NoError(t, r2.Release(ctx))

	w, err := l.Lock(ctx, "gid", time.Minute, time.Second)
	require.NoError(t, err)

	_, err = l.RLock(ctx, "gid", time.Minute, 30*time.Millisecond)
	assert.ErrorIs(t, err, lock.ErrTimeout, "readers wait for writer")

	done := make(chan error, 1)
	go func() {
		lease, err := l.RLock(ctx, "gid", time.Minute, time.Second)
		if err == nil {
			err = lease.Release(ctx)
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, w.Release(ctx))
	assert.NoError(t, <-done, "release wakes waiting readers")
}

func TestLocal_ContextCancel(t *testing.T) {
	l := lock.NewLocal()
	_, err := l.Acquire(context.Background(), "k", time.Minute, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "k", time.Minute, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
