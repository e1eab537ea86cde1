// Package counter 實現 UV / UIP 的首次訪問判定
//
// 系統設計問題：
//
//	兩個新訪客同時訪問，如何保證只有一個被判定為「首次」？
//
// 錯誤做法：SISMEMBER 後再 SADD，兩個請求可能同時讀到「不存在」。
// 正確做法：SADD 本身回傳是否新增，並在同一個 Lua 腳本中設定過期時間。
//
// Key 格式：
//
//	shortlink:visit:history:{fullShortURL}:{uv|uip}
//	shortlink:visit:today:{yyyymmdd}:{fullShortURL}:{uv|uip}
//
// 「今日」集合的 key 帶日期並在隔天零點過期，
// 即使 EXPIREAT 沒有生效，跨日也不會沿用前一天的集合。
package counter

import (
	"time"
)

// Identity 身分類型
type Identity string

const (
	// UV 以 uv cookie 識別訪客
	UV Identity = "uv"
	// UIP 以 IP 識別訪客
	UIP Identity = "uip"
)

// HistoryKey 全期間集合 key
func HistoryKey(fullShortURL string, id Identity) string {
	return "shortlink:visit:history:" + fullShortURL + ":" + string(id)
}

// TodayKey 當日集合 key
func TodayKey(fullShortURL string, id Identity, day time.Time) string {
	return "shortlink:visit:today:" + day.Format("20060102") + ":" + fullShortURL + ":" + string(id)
}

// NextMidnight t 所在時區的下一個零點
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
