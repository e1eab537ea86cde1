package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// uvCookie 訪客識別 cookie 名稱
const uvCookie = "uv"

// visitorID 讀取 uv cookie，沒有時產生新的 ID，issued 表示需要簽發
func visitorID(r *http.Request) (id string, issued bool) {
	if c, err := r.Cookie(uvCookie); err == nil && c.Value != "" {
		return c.Value, false
	}
	return uuid.NewString(), true
}

// setVisitorCookie 簽發 uv cookie
//
// cookie 只作用於 /{shortCode}，同一訪客在不同短碼上各有一個 ID。
func (h *Handler) setVisitorCookie(w http.ResponseWriter, code, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     uvCookie,
		Value:    id,
		Path:     "/" + code,
		MaxAge:   int(h.opts.CookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ipHeaders 依序檢查的代理標頭
var ipHeaders = []string{
	"X-Forwarded-For",
	"Proxy-Client-IP",
	"WL-Proxy-Client-IP",
	"HTTP_CLIENT_IP",
	"HTTP_X_FORWARDED_FOR",
}

// clientIP 取得客戶端真實 IP
//
// 依序檢查代理標頭，跳過空值與 "unknown"；X-Forwarded-For 取第一跳。
// 都沒有時退回連線的遠端位址。
func clientIP(r *http.Request) string {
	for _, h := range ipHeaders {
		v := r.Header.Get(h)
		if v == "" || strings.EqualFold(v, "unknown") {
			continue
		}
		if first, _, ok := strings.Cut(v, ","); ok {
			v = first
		}
		if v = strings.TrimSpace(v); v != "" && !strings.EqualFold(v, "unknown") {
			return v
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
