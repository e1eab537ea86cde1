// Package link 實現短鏈接的解析與防護管線
//
// 系統設計問題：
//
//	如何在高併發下把短碼解析為原始 URL，同時保護較慢的資料庫？
//
// 三種快取風險與對策：
//  1. 快取穿透（查詢從未存在的短碼）→ 布隆過濾器 + 空值快取
//  2. 快取擊穿（熱點短碼過期瞬間大量併發）→ 分散式鎖 + 雙重檢查
//  3. 生成重複短碼 → 過濾器檢查 + 有限次加鹽重試 + 唯一索引兜底
//
// 組件：
//   - Generator：雜湊 → Base62 → 過濾器檢查 → 加鹽重試
//   - Resolver：正向快取 → 過濾器 → 空值快取 → 鎖 → 雙重檢查 → 資料庫
//   - Tracker：UV / UIP 首次訪問判定（Lua 原子操作），發送訪問事件
//   - Service：建立、批次建立、更新（含跨群組遷移）、統計
package link

import (
	"strings"
	"time"
)

// ExpiryPolicy 有效期類型
type ExpiryPolicy int

const (
	// ValidPermanent 永久有效
	ValidPermanent ExpiryPolicy = 0
	// ValidCustom 自訂有效期（ValidDate 之後失效）
	ValidCustom ExpiryPolicy = 1
)

// String 實現 fmt.Stringer
func (p ExpiryPolicy) String() string {
	if p == ValidCustom {
		return "custom"
	}
	return "permanent"
}

// CreatedType 建立來源
type CreatedType int

const (
	// CreatedByAPI 透過 API 建立
	CreatedByAPI CreatedType = 0
	// CreatedByConsole 透過管理後台建立
	CreatedByConsole CreatedType = 1
)

// PermanentCacheTTL 永久鏈接的快取時間（2626560000 ms，約 30 天）
const PermanentCacheTTL = 2626560000 * time.Millisecond

// ShortLink 短鏈接
//
// 唯一性：(GID, FullShortURL)；任一時刻每個 FullShortURL 最多一筆未刪除且啟用的資料。
type ShortLink struct {
	ID            int64
	GID           string
	Domain        string
	ShortURI      string
	FullShortURL  string
	OriginURL     string
	Description   string
	Favicon       string
	CreatedType   CreatedType
	ValidDateType ExpiryPolicy
	ValidDate     time.Time // 永久有效時為零值
	Enabled       bool
	Deleted       bool
	DeletedAt     time.Time
	TotalPV       int64
	TotalUV       int64
	TotalUIP      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired 是否已過有效期
func (l *ShortLink) Expired(now time.Time) bool {
	return l.ValidDateType == ValidCustom && !l.ValidDate.IsZero() && !now.Before(l.ValidDate)
}

// CacheTTL 正向快取的存活時間
//
// 永久鏈接使用 PermanentCacheTTL；自訂有效期使用剩餘時間，
// 確保快取不會比鏈接本身活得更久。
func (l *ShortLink) CacheTTL(now time.Time) time.Duration {
	if l.ValidDateType != ValidCustom || l.ValidDate.IsZero() {
		return PermanentCacheTTL
	}
	return l.ValidDate.Sub(now)
}

// RoutingRecord 短碼 → 群組的路由記錄
//
// 解析永遠先查路由再查鏈接，群組遷移只需重新指向路由。
type RoutingRecord struct {
	FullShortURL string
	GID          string
}

// VisitEvent 單次訪問事件，交給下游統計管線
type VisitEvent struct {
	FullShortURL    string    `json:"full_short_url"`
	VisitorID       string    `json:"visitor_id"`
	ClientIP        string    `json:"client_ip"`
	Browser         string    `json:"browser"`
	Device          string    `json:"device"`
	Network         string    `json:"network"`
	UVHistoryFirst  bool      `json:"uv_history_first"`
	UVTodayFirst    bool      `json:"uv_today_first"`
	UIPHistoryFirst bool      `json:"uip_history_first"`
	UIPTodayFirst   bool      `json:"uip_today_first"`
	Timestamp       time.Time `json:"timestamp"`
}

// Visit 訪問者資訊（由 HTTP 層解析後傳入）
type Visit struct {
	FullShortURL string
	VisitorID    string
	ClientIP     string
	UserAgent    string
	At           time.Time
}

// FullShortURL 組合網域與短碼
func FullShortURL(domain, shortURI string) string {
	return strings.TrimSuffix(domain, "/") + "/" + shortURI
}
