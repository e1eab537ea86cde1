// Package allowlist 限制可建立短鏈接的原始 URL 網域
//
// 未啟用時允許所有網域；啟用後只有清單中的網域（含其子網域）可建立。
package allowlist

import (
	"net/url"
	"strings"
)

// Allowlist 原始 URL 網域白名單
type Allowlist struct {
	enabled bool
	domains []string
}

// New 建立白名單，網域不分大小寫
func New(enabled bool, domains []string) *Allowlist {
	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, ".")
		if d != "" {
			normalized = append(normalized, d)
		}
	}
	return &Allowlist{enabled: enabled, domains: normalized}
}

// Allowed 原始 URL 的網域是否允許
func (a *Allowlist) Allowed(originURL string) bool {
	if !a.enabled {
		return true
	}

	u, err := url.Parse(originURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	for _, d := range a.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Domains 白名單網域，未啟用時回傳 nil
func (a *Allowlist) Domains() []string {
	if !a.enabled {
		return nil
	}
	return append([]string(nil), a.domains...)
}

// Enabled 是否啟用
func (a *Allowlist) Enabled() bool {
	return a.enabled
}
