// Package lock 提供叢集範圍的具名鎖
//
// 兩種語意：
//   - Locker：互斥鎖，支援 try-lock（立即失敗）與有上限的阻塞等待
//   - RWLocker：讀寫鎖，讀與讀相容，寫與任何鎖互斥
//
// 每個鎖都帶有租約時間（TTL）：持有者崩潰時鎖會自動過期，
// 不會永久卡住後續請求。
//
// 實作：
//   - Redis：SET NX PX + Lua 比對 token 後刪除（多實例部署）
//   - Local：程序內實作（單機部署與測試）
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout 等待鎖逾時
	ErrTimeout = errors.New("lock: wait timeout")

	// ErrNotHeld 釋放時鎖已不屬於自己（租約過期後被他人取得）
	ErrNotHeld = errors.New("lock: not held")
)

// Lease 已取得的鎖
type Lease interface {
	Release(ctx context.Context) error
}

// Locker 互斥鎖
type Locker interface {
	// TryAcquire 非阻塞取得鎖，被佔用時回傳 false
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
	// Acquire 阻塞取得鎖，最多等待 wait，逾時回傳 ErrTimeout
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error)
}

// RWLocker 讀寫鎖
type RWLocker interface {
	// Lock 取得寫鎖，最多等待 wait
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error)
	// RLock 取得讀鎖，最多等待 wait
	RLock(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error)
}

// poll 以固定間隔重試 try，直到成功、逾時或 ctx 取消
func poll(ctx context.Context, wait, interval time.Duration, try func() (Lease, bool, error)) (Lease, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		lease, ok, err := try()
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}
