// Package cache 實現解析用的正向快取與空值快取
//
// 兩種快取使用不同的 key 命名空間：
//
//	shortlink:resolve:{fullShortURL} → 原始 URL（正向）
//	shortlink:absent:{fullShortURL}  → "-"（確認不存在或已過期）
//
// 系統設計考量：
//   - 正向快取 TTL 由呼叫方依鏈接有效期決定，不在此處設定預設值
//   - 空值快取只在真正查過資料庫後寫入，TTL 短（預設 30 分鐘）
//   - 兩者分開存放：刪除正向快取時不會誤刪空值標記，反之亦然
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resolvePrefix = "shortlink:resolve:"
	absentPrefix  = "shortlink:absent:"
	absentValue   = "-"
)

// ResolveKey 正向快取 key
func ResolveKey(fullShortURL string) string {
	return resolvePrefix + fullShortURL
}

// AbsentKey 空值快取 key
func AbsentKey(fullShortURL string) string {
	return absentPrefix + fullShortURL
}

// Redis 基於 Redis 的快取，多個實例共享
type Redis struct {
	client redis.UniversalClient
}

// NewRedis 建立 Redis 快取
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Get 查詢正向快取
func (c *Redis) Get(ctx context.Context, fullShortURL string) (string, bool, error) {
	v, err := c.client.Get(ctx, ResolveKey(fullShortURL)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get resolve cache: %w", err)
	}
	return v, true, nil
}

// Set 寫入正向快取，ttl <= 0 時不寫入（鏈接已過期）
func (c *Redis) Set(ctx context.Context, fullShortURL, originURL string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, ResolveKey(fullShortURL), originURL, ttl).Err(); err != nil {
		return fmt.Errorf("set resolve cache: %w", err)
	}
	return nil
}

// Delete 刪除正向快取
func (c *Redis) Delete(ctx context.Context, fullShortURL string) error {
	if err := c.client.Del(ctx, ResolveKey(fullShortURL)).Err(); err != nil {
		return fmt.Errorf("delete resolve cache: %w", err)
	}
	return nil
}

// IsAbsent 查詢空值快取
func (c *Redis) IsAbsent(ctx context.Context, fullShortURL string) (bool, error) {
	n, err := c.client.Exists(ctx, AbsentKey(fullShortURL)).Result()
	if err != nil {
		return false, fmt.Errorf("check absent cache: %w", err)
	}
	return n > 0, nil
}

// MarkAbsent 寫入空值快取
func (c *Redis) MarkAbsent(ctx context.Context, fullShortURL string, ttl time.Duration) error {
	if err := c.client.Set(ctx, AbsentKey(fullShortURL), absentValue, ttl).Err(); err != nil {
		return fmt.Errorf("mark absent: %w", err)
	}
	return nil
}

// ClearAbsent 刪除空值快取
func (c *Redis) ClearAbsent(ctx context.Context, fullShortURL string) error {
	if err := c.client.Del(ctx, AbsentKey(fullShortURL)).Err(); err != nil {
		return fmt.Errorf("clear absent: %w", err)
	}
	return nil
}
