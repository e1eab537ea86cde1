package link

import (
	"net"
	"net/url"
	"strings"
)

// validateOriginURL 檢查原始 URL
//
// 只允許 http / https，且不能指向內網位址：
// 短鏈接服務會對目標做重新導向與 favicon 抓取，指向內網等同開放 SSRF。
func validateOriginURL(raw string) error {
	if len(raw) > 2048 {
		return ErrInvalidURL.WithDetails("url too long")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL.WithCause(err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURL.WithDetails("scheme must be http or https")
	}
	if u.Hostname() == "" {
		return ErrInvalidURL.WithDetails("missing host")
	}
	if isPrivateHost(u.Hostname()) {
		return ErrInvalidURL.WithDetails("private or loopback host")
	}
	return nil
}

// isPrivateHost localhost、回環、私有網段與鏈路本地位址（含雲端 metadata 169.254.169.254）
func isPrivateHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
