// Package logger 建立服務使用的 slog 日誌記錄器
//
// 請求 ID 透過 context 傳遞，contextHandler 在輸出時自動附加，
// 業務程式碼只需要呼叫 logger.InfoContext(ctx, ...)。
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

// RequestIDKey 請求 ID 的上下文鍵
const RequestIDKey contextKey = "request_id"

// Options 日誌設定
type Options struct {
	Level     string // debug | info | warn | error
	Format    string // json | text
	Output    string // stdout | stderr | 檔案路徑
	AddSource bool
	Location  *time.Location // 時間欄位使用的時區，nil 表示 UTC
}

// New 依設定建立日誌記錄器並設為預設
//
// 回傳的 io.Closer 在輸出為檔案時負責關閉檔案，其餘情況為 no-op。
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	switch opts.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		// #nosec G304 - 路徑來自設定檔
		f, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, err
		}
		out, closer = f, f
	}

	logger := slog.New(NewHandler(out, opts))
	slog.SetDefault(logger)
	return logger, closer, nil
}

// NewHandler 建立附帶請求 ID 的 handler
func NewHandler(w io.Writer, opts Options) slog.Handler {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.In(loc).Format("2006-01-02 15:04:05.000"))
				}
			}
			return a
		},
	}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return &contextHandler{Handler: h}
}

// ParseLevel 解析日誌級別，未知值視為 info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從 context 取出請求 ID
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RequestID(ctx); id != "" {
		r.AddAttrs(slog.String(string(RequestIDKey), id))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保留 contextHandler 包裝
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 保留 contextHandler 包裝
func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithRequestID 將請求 ID 放入 context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID 取出請求 ID
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// Discard 測試用的靜默記錄器
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
