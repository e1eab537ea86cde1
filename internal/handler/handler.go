// Package handler 短鏈接服務的 HTTP 層
//
// 路由（Go 1.22 ServeMux pattern）：
//
//	GET  /{shortCode}                       跳轉（302），同時提交訪問追蹤
//	POST /api/v1/links                      建立短鏈接（?lock=true 使用分散式鎖版本）
//	POST /api/v1/links/batch                批次建立
//	PUT  /api/v1/links                      更新（含跨群組遷移）
//	GET  /api/v1/links/{shortCode}/stats    統計（?gid=）
//	GET  /api/v1/domains                    白名單網域
//	GET  /health                            健康檢查
//	GET  /metrics                           Prometheus 指標
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/koopa0/system-design/short-link/internal/link"
	"github.com/koopa0/system-design/short-link/internal/metrics"
	apperrors "github.com/koopa0/system-design/short-link/pkg/errors"
)

// maxBodyBytes 請求 body 上限
const maxBodyBytes = 1 << 20

// Options HTTP 層設定
type Options struct {
	Domain       string        // 短鏈接網域，與短碼組成 full_short_url
	NotFoundURL  string        // 短碼不存在時的跳轉目標
	CookieMaxAge time.Duration // uv cookie 有效期

	// HealthCheck 檢查依賴（Redis、PostgreSQL），nil 表示不檢查
	HealthCheck func(ctx context.Context) error
}

// Handler HTTP 處理器
type Handler struct {
	service  *link.Service
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// New 建立 Handler，gatherer 為 nil 時不註冊 /metrics
func New(service *link.Service, opts Options, logger *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *Handler {
	if opts.NotFoundURL == "" {
		opts.NotFoundURL = "/page/notfound"
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = 30 * 24 * time.Hour
	}
	return &Handler{
		service:  service,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		gatherer: gatherer,
	}
}

// Routes 設定路由
//
// 中間件由外到內：recovery → 請求 ID + 日誌 → 指標。
// 指標在最內層才拿得到 ServeMux 填入的 r.Pattern。
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/links", h.createLink)
	mux.HandleFunc("POST /api/v1/links/batch", h.batchCreate)
	mux.HandleFunc("PUT /api/v1/links", h.updateLink)
	mux.HandleFunc("GET /api/v1/links/{shortCode}/stats", h.stats)
	mux.HandleFunc("GET /api/v1/domains", h.domains)
	mux.HandleFunc("GET /health", h.health)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(h.gatherer))
	}
	mux.HandleFunc("GET /{shortCode}", h.redirect)

	return h.recovery(h.logRequest(h.metrics.Middleware(mux)))
}

// === 請求 / 響應格式 ===

type linkRequest struct {
	GID           string     `json:"gid"`
	OriginURL     string     `json:"origin_url"`
	Description   string     `json:"description"`
	Favicon       string     `json:"favicon"`
	CreatedType   int        `json:"created_type"`
	ValidDateType int        `json:"valid_date_type"`
	ValidDate     *time.Time `json:"valid_date,omitempty"`
}

func (r linkRequest) toCreate() link.CreateRequest {
	req := link.CreateRequest{
		GID:           r.GID,
		OriginURL:     r.OriginURL,
		Description:   r.Description,
		Favicon:       r.Favicon,
		CreatedType:   link.CreatedType(r.CreatedType),
		ValidDateType: link.ExpiryPolicy(r.ValidDateType),
	}
	if r.ValidDate != nil {
		req.ValidDate = *r.ValidDate
	}
	return req
}

type batchRequest struct {
	Links []linkRequest `json:"links"`
}

type updateRequest struct {
	FullShortURL  string     `json:"full_short_url"`
	OriginGID     string     `json:"origin_gid"`
	GID           string     `json:"gid"`
	OriginURL     string     `json:"origin_url"`
	Description   string     `json:"description"`
	Favicon       string     `json:"favicon"`
	ValidDateType int        `json:"valid_date_type"`
	ValidDate     *time.Time `json:"valid_date,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// === 處理函數 ===

// redirect 解析短碼並跳轉
//
// 不存在、已刪除、已過期 → 302 到 NotFoundURL；
// 依賴故障或等待鎖逾時 → 503，讓客戶端稍後重試。
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("shortCode")
	visitor, issued := visitorID(r)
	visit := link.Visit{
		FullShortURL: link.FullShortURL(h.opts.Domain, code),
		VisitorID:    visitor,
		ClientIP:     clientIP(r),
		UserAgent:    r.UserAgent(),
	}

	originURL, err := h.service.Redirect(r.Context(), visit)
	if err != nil {
		if apperrors.IsNotFound(err) {
			http.Redirect(w, r, h.opts.NotFoundURL, http.StatusFound)
			return
		}
		h.writeError(w, r, err)
		return
	}

	// 只有解析成功才簽發，不存在的短碼不留下 cookie
	if issued {
		h.setVisitorCookie(w, code, visitor)
	}
	http.Redirect(w, r, originURL, http.StatusFound)
}

// createLink 建立短鏈接
func (h *Handler) createLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !h.decode(w, r, &req) {
		return
	}

	create := h.service.Create
	if withLock, _ := strconv.ParseBool(r.URL.Query().Get("lock")); withLock {
		create = h.service.CreateWithLock
	}

	res, err := create(r.Context(), req.toCreate())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, res, http.StatusCreated)
}

// batchCreate 批次建立，單筆失敗不影響其他筆
func (h *Handler) batchCreate(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}

	reqs := make([]link.CreateRequest, len(req.Links))
	for i, l := range req.Links {
		reqs[i] = l.toCreate()
	}

	res, err := h.service.BatchCreate(r.Context(), reqs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}

// updateLink 更新短鏈接
func (h *Handler) updateLink(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}

	update := link.UpdateRequest{
		FullShortURL:  req.FullShortURL,
		OriginGID:     req.OriginGID,
		GID:           req.GID,
		OriginURL:     req.OriginURL,
		Description:   req.Description,
		Favicon:       req.Favicon,
		ValidDateType: link.ExpiryPolicy(req.ValidDateType),
	}
	if req.ValidDate != nil {
		update.ValidDate = *req.ValidDate
	}

	if err := h.service.Update(r.Context(), update); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// stats 查詢統計
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	gid := r.URL.Query().Get("gid")
	if gid == "" {
		h.writeError(w, r, link.ErrInvalidRequest.WithDetails("gid is required"))
		return
	}

	full := link.FullShortURL(h.opts.Domain, r.PathValue("shortCode"))
	st, err := h.service.Stats(r.Context(), gid, full)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, st, http.StatusOK)
}

// domains 白名單網域，未啟用時回傳空陣列
func (h *Handler) domains(w http.ResponseWriter, _ *http.Request) {
	domains := h.service.Domains()
	if domains == nil {
		domains = []string{}
	}
	h.writeJSON(w, map[string]any{"domains": domains}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.opts.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.HealthCheck(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "error", err)
			h.writeJSON(w, map[string]string{"status": "unhealthy"}, http.StatusServiceUnavailable)
			return
		}
	}
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// === 工具函數 ===

// decode 解析 JSON body，失敗時直接寫入 400
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.errorJSON(w, errorResponse{
			Error:   "invalid request body",
			Code:    apperrors.ErrCodeInvalidInput,
			Details: err.Error(),
		}, http.StatusBadRequest)
		return false
	}
	return true
}

// writeError 依錯誤碼映射狀態碼
//
// 5xx 記錄完整錯誤鏈，回應只帶錯誤碼與訊息，不洩漏內部細節。
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	// 客戶端已斷線，不是伺服器錯誤
	if errors.Is(err, context.Canceled) {
		h.logger.DebugContext(r.Context(), "client closed request", "path", r.URL.Path)
		w.WriteHeader(statusClientClosedRequest)
		return
	}

	status := apperrors.HTTPStatus(err)
	resp := errorResponse{Error: "internal server error", Code: apperrors.CodeOf(err)}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		if status < http.StatusInternalServerError {
			resp.Details = appErr.Details
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	h.errorJSON(w, resp, status)
}

// statusClientClosedRequest 客戶端在回應前斷線（nginx 慣例）
const statusClientClosedRequest = 499

func (h *Handler) writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) errorJSON(w http.ResponseWriter, resp errorResponse, status int) {
	h.writeJSON(w, resp, status)
}
