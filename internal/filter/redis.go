// Package filter 實現短碼的存在性過濾器（布隆過濾器）
//
// 語意：
//   - MightContain == false → 一定不存在，解析時直接回傳未找到
//   - MightContain == true  → 可能存在，繼續查空值快取與資料庫
//
// 系統設計考量：
//   - 只增不減：軟刪除不從過濾器移除，交給空值快取處理
//   - 多實例部署必須共享同一個過濾器 → RedisBloom（BF.RESERVE / BF.ADD / BF.EXISTS）
//   - 單機部署與測試使用程序內實作
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBloom 基於 RedisBloom 模組的過濾器
type RedisBloom struct {
	client    redis.UniversalClient
	key       string
	errorRate float64
	capacity  int64
}

// NewRedisBloom 建立 RedisBloom 過濾器，需呼叫 Reserve 建立底層結構
func NewRedisBloom(client redis.UniversalClient, key string, errorRate float64, capacity int64) *RedisBloom {
	return &RedisBloom{client: client, key: key, errorRate: errorRate, capacity: capacity}
}

// Reserve 建立過濾器，已存在時忽略
//
// 容量與誤判率在建立後不可修改；若未先 Reserve 就 BF.ADD，
// RedisBloom 會以預設參數（容量 100、誤判率 1%）自動建立。
func (f *RedisBloom) Reserve(ctx context.Context) error {
	err := f.client.BFReserve(ctx, f.key, f.errorRate, f.capacity).Err()
	if err != nil && !strings.Contains(err.Error(), "item exists") {
		return fmt.Errorf("reserve bloom filter %s: %w", f.key, err)
	}
	return nil
}

// Add 加入元素
func (f *RedisBloom) Add(ctx context.Context, item string) error {
	if err := f.client.BFAdd(ctx, f.key, item).Err(); err != nil {
		return fmt.Errorf("bloom add: %w", err)
	}
	return nil
}

// MightContain 元素是否可能存在
func (f *RedisBloom) MightContain(ctx context.Context, item string) (bool, error) {
	ok, err := f.client.BFExists(ctx, f.key, item).Result()
	if err != nil {
		return false, fmt.Errorf("bloom exists: %w", err)
	}
	return ok, nil
}
