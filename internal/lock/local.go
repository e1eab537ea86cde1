package lock

import (
	"context"
	"sync"
	"time"
)

// Local 程序內的具名鎖，語意與 Redis 版本相同
//
// 等待者不輪詢：每次狀態改變時關閉 changed 通道喚醒所有等待者，
// 由等待者自行重試。
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	changed chan struct{}
	seq     uint64
	now     func() time.Time
}

type localEntry struct {
	writer  uint64            // 0 表示沒有寫者
	readers map[uint64]struct{}
	expires time.Time
}

// NewLocal 建立程序內鎖
func NewLocal() *Local {
	return &Local{
		entries: make(map[string]*localEntry),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// TryAcquire 非阻塞取得互斥鎖
func (l *Local) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	lease, ok, _ := l.try(key, ttl, true)
	return lease, ok, nil
}

// Acquire 阻塞取得互斥鎖
func (l *Local) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	return l.wait(ctx, key, ttl, wait, true)
}

// Lock 取得寫鎖
func (l *Local) Lock(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	return l.wait(ctx, key, ttl, wait, true)
}

// RLock 取得讀鎖
func (l *Local) RLock(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	return l.wait(ctx, key, ttl, wait, false)
}

func (l *Local) wait(ctx context.Context, key string, ttl, wait time.Duration, exclusive bool) (Lease, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		lease, ok, changed := l.try(key, ttl, exclusive)
		if ok {
			return lease, nil
		}

		// 持有者崩潰（不釋放）時靠租約到期解除，最多睡到到期時間
		expiry := time.NewTimer(l.untilExpiry(key))
		select {
		case <-ctx.Done():
			expiry.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			expiry.Stop()
			return nil, ErrTimeout
		case <-changed:
		case <-expiry.C:
		}
		expiry.Stop()
	}
}

func (l *Local) try(key string, ttl time.Duration, exclusive bool) (Lease, bool, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if ok && !now.Before(e.expires) {
		delete(l.entries, key)
		ok = false
	}

	l.seq++
	token := l.seq

	switch {
	case !ok:
		e = &localEntry{readers: make(map[uint64]struct{})}
		l.entries[key] = e
	case exclusive, e.writer != 0:
		return nil, false, l.changed
	}

	if exclusive {
		e.writer = token
	} else {
		e.readers[token] = struct{}{}
	}
	if exp := now.Add(ttl); exp.After(e.expires) {
		e.expires = exp
	}
	return &localLease{owner: l, key: key, token: token}, true, nil
}

func (l *Local) untilExpiry(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		if d := e.expires.Sub(l.now()); d > 0 {
			return d
		}
	}
	return time.Millisecond
}

func (l *Local) release(key string, token uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return ErrNotHeld
	}
	switch {
	case e.writer == token:
		e.writer = 0
	default:
		if _, held := e.readers[token]; !held {
			return ErrNotHeld
		}
		delete(e.readers, token)
	}
	if e.writer == 0 && len(e.readers) == 0 {
		delete(l.entries, key)
	}

	close(l.changed)
	l.changed = make(chan struct{})
	return nil
}

type localLease struct {
	owner *Local
	key   string
	token uint64
}

// Release 釋放鎖
func (l *localLease) Release(context.Context) error {
	return l.owner.release(l.key, l.token)
}
