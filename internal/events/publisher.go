package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/koopa0/system-design/short-link/internal/link"
)

// LogPublisher 以日誌記錄事件
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher 建立日誌 Publisher
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish 寫一行 debug 日誌
func (p *LogPublisher) Publish(ctx context.Context, e link.VisitEvent) error {
	p.logger.DebugContext(ctx, "visit",
		"code", e.FullShortURL,
		"visitor", e.VisitorID,
		"ip", e.ClientIP,
		"browser", e.Browser,
		"device", e.Device,
		"network", e.Network,
		"uv_first", e.UVHistoryFirst,
		"uv_today_first", e.UVTodayFirst,
		"uip_first", e.UIPHistoryFirst,
		"uip_today_first", e.UIPTodayFirst)
	return nil
}

// Fanout 依序交給每個 Publisher，回傳所有錯誤
type Fanout []link.Publisher

// Publish 實現 link.Publisher
func (f Fanout) Publish(ctx context.Context, e link.VisitEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder 記錄收到的事件（測試用）
type Recorder struct {
	mu     sync.Mutex
	events []link.VisitEvent
	Err    error
}

// Publish 實現 link.Publisher
func (r *Recorder) Publish(_ context.Context, e link.VisitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.Err
}

// Events 已收到的事件副本
func (r *Recorder) Events() []link.VisitEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]link.VisitEvent(nil), r.events...)
}
