package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/short-link/internal/allowlist"
	"github.com/koopa0/system-design/short-link/internal/cache"
	"github.com/koopa0/system-design/short-link/internal/counter"
	"github.com/koopa0/system-design/short-link/internal/events"
	"github.com/koopa0/system-design/short-link/internal/filter"
	"github.com/koopa0/system-design/short-link/internal/handler"
	"github.com/koopa0/system-design/short-link/internal/link"
	"github.com/koopa0/system-design/short-link/internal/lock"
	"github.com/koopa0/system-design/short-link/internal/metrics"
	"github.com/koopa0/system-design/short-link/internal/storage"
	"github.com/koopa0/system-design/short-link/pkg/logger"
	"github.com/koopa0/system-design/short-link/pkg/snowflake"
)

const domain = "s.example"

type server struct {
	routes   http.Handler
	store    *storage.Memory
	filter   *filter.Memory
	tracker  *link.Tracker
	recorder *events.Recorder
	health   error
	logs     *bytes.Buffer
}

func newServer(t *testing.T) *server {
	t.Helper()

	ids, err := snowflake.NewGenerator(1)
	require.NoError(t, err)

	s := &server{
		store:    storage.NewMemory(),
		filter:   filter.NewMemory(10000, 0.001),
		recorder: &events.Recorder{},
		logs:     &bytes.Buffer{},
	}
	log := logger.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	locker := lock.NewLocal()
	c := cache.NewMemory()

	s.tracker = link.NewTracker(counter.NewMemory(), s.recorder, link.TrackerOptions{QueueSize: 16, Workers: 1}, log, m)
	s.tracker.Start(context.Background())
	t.Cleanup(s.tracker.Shutdown)

	svc := link.NewService(link.Deps{
		Store:     s.store,
		Cache:     c,
		Filter:    s.filter,
		Locker:    locker,
		RWLocker:  locker,
		Generator: link.NewGenerator(s.filter, s.store, 6, link.DefaultMaxAttempts, m),
		Resolver:  link.NewResolver(s.store, c, s.filter, locker, link.ResolverOptions{LockWait: 200 * time.Millisecond}, log, m),
		Tracker:   s.tracker,
		Allowlist: allowlist.New(true, []string{"example.com"}),
		IDs:       ids,
		Logger:    log,
		Metrics:   m,
	}, link.Options{
		Domain:   domain,
		LockTTL:  time.Second,
		LockWait: 200 * time.Millisecond,
		MaxBatch: 10,
	})

	h := handler.New(svc, handler.Options{
		Domain:      domain,
		NotFoundURL: "https://s.example/page/notfound",
		HealthCheck: func(context.Context) error { return s.health },
	}, slog.New(logger.NewHandler(s.logs, logger.Options{Level: "debug", Format: "text"})), m, reg)
	s.routes = h.Routes()
	return s
}

func (s *server) do(t *testing.T, method, target string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, req)
	return rec
}

// create 透過 API 建立並回傳短碼
func (s *server) create(t *testing.T, gid, originURL string) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/v1/links", map[string]any{"gid": gid, "origin_url": originURL})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res link.CreateResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	code, ok := strings.CutPrefix(res.FullShortURL, domain+"/")
	require.True(t, ok, res.FullShortURL)
	return code
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestCreateLink(t *testing.T) {
	t.Run("建立後可跳轉", func(t *testing.T) {
		s := newServer(t)
		code := s.create(t, "g1", "https://example.com/a")

		rec := s.do(t, http.MethodGet, "/"+code, nil)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://example.com/a", rec.Header().Get("Location"))
	})

	t.Run("加鎖版本", func(t *testing.T) {
		s := newServer(t)
		rec := s.do(t, http.MethodPost, "/api/v1/links?lock=true", map[string]any{
			"gid": "g1", "origin_url": "https://example.com/locked",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("自訂有效期", func(t *testing.T) {
		s := newServer(t)
		rec := s.do(t, http.MethodPost, "/api/v1/links", map[string]any{
			"gid":             "g1",
			"origin_url":      "https://example.com/ttl",
			"valid_date_type": int(link.ValidCustom),
			"valid_date":      time.Now().Add(time.Hour).Format(time.RFC3339),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("輸入錯誤", func(t *testing.T) {
		tests := []struct {
			name string
			body any
			code string
		}{
			{"缺少 gid", map[string]any{"origin_url": "https://example.com/a"}, "INVALID_INPUT"},
			{"非 http", map[string]any{"gid": "g1", "origin_url": "ftp://example.com/a"}, "INVALID_INPUT"},
			{"白名單外", map[string]any{"gid": "g1", "origin_url": "https://evil.test/a"}, "INVALID_INPUT"},
			{"未知欄位", map[string]any{"gid": "g1", "origin_url": "https://example.com/a", "extra": 1}, "INVALID_INPUT"},
		}
		s := newServer(t)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := s.do(t, http.MethodPost, "/api/v1/links", tt.body)
				require.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Equal(t, tt.code, decodeError(t, rec)["code"])
			})
		}
	})

	t.Run("body 不是 JSON", func(t *testing.T) {
		s := newServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/links", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		s.routes.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBatchCreate(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/links/batch", map[string]any{
		"links": []map[string]any{
			{"gid": "g1", "origin_url": "https://example.com/1"},
			{"gid": "g1", "origin_url": "not a url"},
			{"gid": "g1", "origin_url": "https://example.com/3"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res link.BatchResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Len(t, res.Succeeded, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Index)

	t.Run("超過上限", func(t *testing.T) {
		links := make([]map[string]any, 11)
		for i := range links {
			links[i] = map[string]any{"gid": "g1", "origin_url": "https://example.com/x"}
		}
		rec := s.do(t, http.MethodPost, "/api/v1/links/batch", map[string]any{"links": links})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRedirect(t *testing.T) {
	t.Run("不存在跳轉到 notfound 頁", func(t *testing.T) {
		s := newServer(t)
		rec := s.do(t, http.MethodGet, "/nope01", nil)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://s.example/page/notfound", rec.Header().Get("Location"))
	})

	t.Run("資料庫故障回 503", func(t *testing.T) {
		s := newServer(t)
		ctx := context.Background()
		l := &link.ShortLink{
			GID:          "g1",
			Domain:       domain,
			ShortURI:     "down01",
			FullShortURL: link.FullShortURL(domain, "down01"),
			OriginURL:    "https://example.com/down",
			Enabled:      true,
		}
		require.NoError(t, s.store.CreateLink(ctx, l))
		require.NoError(t, s.filter.Add(ctx, l.FullShortURL))
		s.store.FailNext(errors.New("connection refused"))

		rec := s.do(t, http.MethodGet, "/down01", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, rec)["code"])
		assert.Contains(t, s.logs.String(), "request failed")
	})

	t.Run("客戶端斷線不記為伺服器錯誤", func(t *testing.T) {
		s := newServer(t)
		l := &link.ShortLink{
			GID:          "g1",
			Domain:       domain,
			ShortURI:     "gone01",
			FullShortURL: link.FullShortURL(domain, "gone01"),
			OriginURL:    "https://example.com/gone",
			Enabled:      true,
		}
		require.NoError(t, s.store.CreateLink(context.Background(), l))
		require.NoError(t, s.filter.Add(context.Background(), l.FullShortURL))
		s.store.QueryDelay = 200 * time.Millisecond

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rec := s.do(t, http.MethodGet, "/gone01", nil, func(r *http.Request) {
			*r = *r.WithContext(ctx)
		})

		assert.Equal(t, 499, rec.Code)
		assert.Empty(t, rec.Result().Cookies())
		assert.NotContains(t, s.logs.String(), "request failed")
		assert.Contains(t, s.logs.String(), "client closed request")
	})

	t.Run("不存在的短碼不簽發 cookie", func(t *testing.T) {
		s := newServer(t)
		rec := s.do(t, http.MethodGet, "/nope02", nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Empty(t, rec.Result().Cookies())
		assert.Empty(t, rec.Header().Values("Set-Cookie"))
	})

	t.Run("簽發 uv cookie 並提交追蹤", func(t *testing.T) {
		s := newServer(t)
		code := s.create(t, "g1", "https://example.com/track")

		rec := s.do(t, http.MethodGet, "/"+code, nil, func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		})
		require.Equal(t, http.StatusFound, rec.Code)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		uv := cookies[0]
		assert.Equal(t, "uv", uv.Name)
		assert.Equal(t, "/"+code, uv.Path)
		assert.Equal(t, int((30 * 24 * time.Hour).Seconds()), uv.MaxAge)

		// 帶著 cookie 再訪問：不再簽發
		rec = s.do(t, http.MethodGet, "/"+code, nil, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "uv", Value: uv.Value})
			r.Header.Set("X-Forwarded-For", "203.0.113.7")
		})
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Empty(t, rec.Result().Cookies())

		s.tracker.Shutdown()
		events := s.recorder.Events()
		require.Len(t, events, 2)
		for _, e := range events {
			assert.Equal(t, uv.Value, e.VisitorID)
			assert.Equal(t, "203.0.113.7", e.ClientIP)
		}
		assert.True(t, events[0].UVHistoryFirst)
		assert.False(t, events[1].UVHistoryFirst)
	})
}

func TestUpdateLink(t *testing.T) {
	s := newServer(t)
	code := s.create(t, "g1", "https://example.com/old")
	full := domain + "/" + code

	// 先跳轉一次讓正向快取生效
	require.Equal(t, "https://example.com/old", s.do(t, http.MethodGet, "/"+code, nil).Header().Get("Location"))

	rec := s.do(t, http.MethodPut, "/api/v1/links", map[string]any{
		"full_short_url": full,
		"origin_gid":     "g1",
		"gid":            "g2",
		"origin_url":     "https://example.com/new",
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/"+code, nil)
	assert.Equal(t, "https://example.com/new", rec.Header().Get("Location"))

	t.Run("原群組已不存在", func(t *testing.T) {
		rec := s.do(t, http.MethodPut, "/api/v1/links", map[string]any{
			"full_short_url": full,
			"origin_gid":     "g1",
			"origin_url":     "https://example.com/again",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStats(t *testing.T) {
	s := newServer(t)
	code := s.create(t, "g1", "https://example.com/stats")

	s.do(t, http.MethodGet, "/"+code, nil)
	s.tracker.Shutdown()

	rec := s.do(t, http.MethodGet, "/api/v1/links/"+code+"/stats?gid=g1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var st link.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, domain+"/"+code, st.FullShortURL)
	assert.Equal(t, int64(1), st.TodayUV)
	assert.Equal(t, int64(1), st.TodayUIP)

	t.Run("缺少 gid", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/links/"+code+"/stats", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("群組不符", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/links/"+code+"/stats?gid=other", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDomains(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/domains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"domains":["example.com"]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)

	s.health = errors.New("redis down")
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/health", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodGet, "/nope01", nil)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="GET /{shortCode}"`)
	assert.Contains(t, rec.Body.String(), "shortlink_resolve_total")
}

func TestRequestID(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/health", nil, func(r *http.Request) {
		r.Header.Set("X-Request-ID", "req-123")
	})
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	// 沒有 service 時任何業務路由都會 panic
	routes := handler.New(nil, handler.Options{Domain: domain}, logger.Discard(), nil, nil).Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
