package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 比對 token 後刪除，避免誤刪他人（租約過期後重新取得）的鎖
//
// KEYS[1]: 鎖的 key
// ARGV[1]: 持有者 token
//
// 返回值：1 已釋放，0 鎖不屬於自己
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// 讀寫鎖以 hash 表示：mode 欄位記錄 read / write，其餘欄位為持有者 token
//
// KEYS[1]: 鎖的 key
// ARGV[1]: 租約毫秒數
// ARGV[2]: 持有者 token
var readLockScript = redis.NewScript(`
local mode = redis.call('HGET', KEYS[1], 'mode')
if mode == false then
	redis.call('HSET', KEYS[1], 'mode', 'read', ARGV[2], 1)
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	return 1
end
if mode == 'read' then
	redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < tonumber(ARGV[1]) then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return 1
end
return 0
`)

var writeLockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'mode', 'write', ARGV[2], 1)
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// KEYS[1]: 鎖的 key
// ARGV[1]: 持有者 token
var rwUnlockScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	return 0
end
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
if redis.call('HLEN', KEYS[1]) <= 1 then
	redis.call('DEL', KEYS[1])
end
return 1
`)

// Redis 基於 Redis 的互斥鎖與讀寫鎖
//
// 系統設計考量：
//   - 單一 Redis 節點，不實作 Redlock（主從切換時有極小機率雙持有）
//   - 擊穿保護的鎖只是減少資料庫查詢，雙持有不會破壞正確性
//   - 阻塞等待以輪詢實作，間隔由 retryInterval 控制
type Redis struct {
	client        redis.UniversalClient
	retryInterval time.Duration
}

// NewRedis 建立 Redis 鎖
func NewRedis(client redis.UniversalClient, retryInterval time.Duration) *Redis {
	if retryInterval <= 0 {
		retryInterval = 20 * time.Millisecond
	}
	return &Redis{client: client, retryInterval: retryInterval}
}

// TryAcquire 非阻塞取得互斥鎖
func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: r.client, key: key, token: token, script: unlockScript}, true, nil
}

// Acquire 阻塞取得互斥鎖
func (r *Redis) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	return poll(ctx, wait, r.retryInterval, func() (Lease, bool, error) {
		return r.TryAcquire(ctx, key, ttl)
	})
}

// Lock 取得寫鎖
func (r *Redis) Lock(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	return poll(ctx, wait, r.retryInterval, func() (Lease, bool, error) {
		return r.tryRW(ctx, writeLockScript, key, ttl)
	})
}

// RLock 取得讀鎖
func (r *Redis) RLock(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	return poll(ctx, wait, r.retryInterval, func() (Lease, bool, error) {
		return r.tryRW(ctx, readLockScript, key, ttl)
	})
}

func (r *Redis) tryRW(ctx context.Context, script *redis.Script, key string, ttl time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	ok, err := script.Run(ctx, r.client, []string{key}, ttl.Milliseconds(), token).Int()
	if err != nil {
		return nil, false, fmt.Errorf("acquire rw lock %s: %w", key, err)
	}
	if ok == 0 {
		return nil, false, nil
	}
	return &redisLease{client: r.client, key: key, token: token, script: rwUnlockScript}, true, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
	script *redis.Script
}

// Release 釋放鎖
func (l *redisLease) Release(ctx context.Context) error {
	n, err := l.script.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
