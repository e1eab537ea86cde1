package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 原子地加入集合並回報是否為新成員
//
// KEYS[1]: 集合 key
// ARGV[1]: 成員
// ARGV[2]: 過期時間（Unix 秒），0 表示不過期
//
// 只有集合是本次新建立時才設定 EXPIREAT，
// 之後的寫入不會延長或重設過期時間。
//
// 返回值：1 新成員，0 已存在
var addIfAbsentScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
local added = redis.call('SADD', KEYS[1], ARGV[1])
local expire_at = tonumber(ARGV[2])
if existed == 0 and added == 1 and expire_at > 0 then
	redis.call('EXPIREAT', KEYS[1], expire_at)
end
return added
`)

// Redis 基於 Redis Set 的計數器
type Redis struct {
	client redis.UniversalClient
}

// NewRedis 建立 Redis 計數器
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// AddIfAbsent 原子地加入集合，回傳是否為新成員
func (r *Redis) AddIfAbsent(ctx context.Context, key, member string, expireAt time.Time) (bool, error) {
	var at int64
	if !expireAt.IsZero() {
		at = expireAt.Unix()
	}

	added, err := addIfAbsentScript.Run(ctx, r.client, []string{key}, member, at).Int()
	if err != nil {
		return false, fmt.Errorf("add %s: %w", key, err)
	}
	return added == 1, nil
}

// Count 集合大小
func (r *Redis) Count(ctx context.Context, key string) (int64, error) {
	n, err := r.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", key, err)
	}
	return n, nil
}
