package link

import (
	"context"
	"time"
)

// Store 鏈接與路由的持久化
//
// 查無資料時回傳 ErrNotFound；唯一性衝突回傳 ErrDuplicateCode。
type Store interface {
	// CreateLink 在同一個交易內寫入 ShortLink 與 RoutingRecord
	CreateLink(ctx context.Context, l *ShortLink) error
	// FindRouting 依完整短碼查詢路由
	FindRouting(ctx context.Context, fullShortURL string) (RoutingRecord, error)
	// FindActive 查詢未刪除且啟用的鏈接
	FindActive(ctx context.Context, gid, fullShortURL string) (*ShortLink, error)
	// RoutingExists 路由表中是否已有 (gid, fullShortURL)
	RoutingExists(ctx context.Context, gid, fullShortURL string) (bool, error)
	// UpdateLink 原地更新（群組不變）
	UpdateLink(ctx context.Context, l *ShortLink) error
	// MoveGroup 在同一個交易內：軟刪除 from、寫入 to、重新指向路由
	//
	// to 的計數器以交易內讀到的 from 為準，並回寫到 to。
	MoveGroup(ctx context.Context, from, to *ShortLink) error
	// IncrementStats 累加統計欄位
	IncrementStats(ctx context.Context, fullShortURL string, pv, uv, uip int64) error
}

// Cache 正向快取與空值快取
type Cache interface {
	Get(ctx context.Context, fullShortURL string) (string, bool, error)
	Set(ctx context.Context, fullShortURL, originURL string, ttl time.Duration) error
	Delete(ctx context.Context, fullShortURL string) error

	IsAbsent(ctx context.Context, fullShortURL string) (bool, error)
	MarkAbsent(ctx context.Context, fullShortURL string, ttl time.Duration) error
	ClearAbsent(ctx context.Context, fullShortURL string) error
}

// Filter 存在性過濾器，只會誤判存在，不會誤判不存在
type Filter interface {
	Add(ctx context.Context, item string) error
	MightContain(ctx context.Context, item string) (bool, error)
}

// VisitCounter 首次訪問判定
type VisitCounter interface {
	// AddIfAbsent 原子地加入集合，回傳是否為新成員；集合首次建立時設定 expireAt（零值表示不過期）
	AddIfAbsent(ctx context.Context, key, member string, expireAt time.Time) (bool, error)
	// Count 集合大小
	Count(ctx context.Context, key string) (int64, error)
}

// Publisher 訪問事件發送
type Publisher interface {
	Publish(ctx context.Context, event VisitEvent) error
}

// Allowlist 原始 URL 網域白名單
type Allowlist interface {
	Allowed(originURL string) bool
	Domains() []string
}

// IDGenerator 資料列主鍵產生
type IDGenerator interface {
	Next() (int64, error)
}
