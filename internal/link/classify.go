package link

import "strings"

// browserRules 依序比對，Edge 與 Opera 的 UA 也包含 "chrome"，必須排在前面
var browserRules = []struct {
	token string
	name  string
}{
	{"edg", "Microsoft Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"chrome", "Google Chrome"},
	{"firefox", "Mozilla Firefox"},
	{"safari", "Apple Safari"},
	{"msie", "Internet Explorer"},
	{"trident", "Internet Explorer"},
}

// Browser 由 User-Agent 判斷瀏覽器
func Browser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, rule := range browserRules {
		if strings.Contains(ua, rule.token) {
			return rule.name
		}
	}
	return "Unknown"
}

// Device 由 User-Agent 判斷裝置類型
func Device(userAgent string) string {
	if strings.Contains(strings.ToLower(userAgent), "mobile") {
		return "Mobile"
	}
	return "PC"
}

// Network 由 IP 粗略判斷網路類型：內網位址視為 WIFI
func Network(ip string) string {
	if strings.HasPrefix(ip, "192.168.") || strings.HasPrefix(ip, "10.") {
		return "WIFI"
	}
	return "Mobile"
}
