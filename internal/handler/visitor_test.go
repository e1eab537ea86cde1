package handler_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koopa0/system-design/short-link/internal/handler"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "X-Forwarded-For 取第一跳",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			want:    "203.0.113.7",
		},
		{
			name:    "unknown 跳過",
			headers: map[string]string{"X-Forwarded-For": "unknown", "Proxy-Client-IP": "198.51.100.2"},
			want:    "198.51.100.2",
		},
		{
			name:    "WL-Proxy-Client-IP",
			headers: map[string]string{"WL-Proxy-Client-IP": "198.51.100.3"},
			want:    "198.51.100.3",
		},
		{
			name:    "HTTP_CLIENT_IP",
			headers: map[string]string{"HTTP_CLIENT_IP": "198.51.100.4"},
			want:    "198.51.100.4",
		},
		{
			name:    "HTTP_X_FORWARDED_FOR",
			headers: map[string]string{"HTTP_X_FORWARDED_FOR": "198.51.100.5"},
			want:    "198.51.100.5",
		},
		{
			name:   "退回遠端位址",
			remote: "192.0.2.9:51234",
			want:   "192.0.2.9",
		},
		{
			name:   "IPv6 遠端位址",
			remote: "[2001:db8::1]:443",
			want:   "2001:db8::1",
		},
		{
			name:   "遠端位址沒有埠",
			remote: "192.0.2.10",
			want:   "192.0.2.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/abc", nil)
			if tt.remote != "" {
				r.RemoteAddr = tt.remote
			}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, handler.ClientIP(r))
		})
	}
}
