package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/koopa0/system-design/short-link/pkg/errors"
	"github.com/koopa0/system-design/short-link/pkg/logger"
)

// requestIDHeader 上游（閘道、負載平衡）可能已經帶了請求 ID
const requestIDHeader = "X-Request-ID"

// logRequest 指派請求 ID 並記錄請求日誌
//
// 請求 ID 寫入 context，之後的 *Context 日誌會自動帶上。
func (h *Handler) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		r = r.WithContext(logger.WithRequestID(r.Context(), id))

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"ip", clientIP(r),
		)
	})
}

// recovery 恢復 panic，避免單一請求拖垮整個服務
func (h *Handler) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", err,
					"path", r.URL.Path,
				)
				h.errorJSON(w, errorResponse{Error: "internal server error", Code: apperrors.ErrCodeInternal},
					http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter 包裝 http.ResponseWriter 以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader 攔截狀態碼
func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

// Write 確保 WriteHeader 被調用
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
