package link

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/short-link/internal/counter"
	"github.com/koopa0/system-design/short-link/internal/metrics"
)

// ErrTrackerClosed Tracker 已關閉
var ErrTrackerClosed = errors.New("tracker closed")

// TrackerOptions 訪問追蹤參數
type TrackerOptions struct {
	Location   *time.Location // 「今日」的時區
	HistoryTTL time.Duration  // 全期間集合的存活時間，0 表示不過期
	QueueSize  int
	Workers    int
}

// Tracker 訪問追蹤
//
// 每次重新導向後：
//  1. 四次原子「加入集合並回報是否新增」：UV/UIP × 全期間/今日
//  2. 由 User-Agent 與 IP 推導瀏覽器、裝置、網路
//  3. 發送 VisitEvent
//
// 系統設計考量：
//   - 重新導向不等待追蹤：Submit 放入緩衝通道，由 worker 處理
//   - 緩衝已滿時丟棄事件並計數，統計不能反過來拖慢重新導向
//   - 計數器故障時旗標預設為 false，事件照常送出
type Tracker struct {
	counter   VisitCounter
	publisher Publisher
	opts      TrackerOptions
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics

	queue  chan Visit
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewTracker 建立追蹤器，呼叫 Start 後才會處理 Submit 的訪問
func NewTracker(c VisitCounter, p Publisher, opts TrackerOptions, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Tracker{
		counter:   c,
		publisher: p,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With("component", "tracker"),
		metrics:   m,
		queue:     make(chan Visit, opts.QueueSize),
	}
}

// Start 啟動 worker
func (t *Tracker) Start(ctx context.Context) {
	for i := 0; i < t.opts.Workers; i++ {
		t.wg.Add(1)
		go t.worker(ctx)
	}
}

// Submit 非阻塞地提交訪問，佇列已滿或已關閉時回傳 false
func (t *Tracker) Submit(v Visit) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return false
	}
	select {
	case t.queue <- v:
		return true
	default:
		t.metrics.VisitDropped()
		t.logger.Warn("visit queue full, dropping event", "code", v.FullShortURL)
		return false
	}
}

// Shutdown 停止接收並等待佇列處理完畢
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	t.wg.Wait()
}

func (t *Tracker) worker(ctx context.Context) {
	defer t.wg.Done()
	for v := range t.queue {
		t.Track(ctx, v)
	}
}

// Track 同步處理一次訪問並發送事件
func (t *Tracker) Track(ctx context.Context, v Visit) VisitEvent {
	at := v.At
	if at.IsZero() {
		at = t.now()
	}
	local := at.In(t.opts.Location)
	midnight := counter.NextMidnight(local)

	var historyExpire time.Time
	if t.opts.HistoryTTL > 0 {
		historyExpire = at.Add(t.opts.HistoryTTL)
	}

	event := VisitEvent{
		FullShortURL: v.FullShortURL,
		VisitorID:    v.VisitorID,
		ClientIP:     v.ClientIP,
		Browser:      Browser(v.UserAgent),
		Device:       Device(v.UserAgent),
		Network:      Network(v.ClientIP),
		Timestamp:    at,
	}

	if v.VisitorID != "" {
		event.UVHistoryFirst = t.first(ctx, counter.HistoryKey(v.FullShortURL, counter.UV), v.VisitorID, historyExpire)
		event.UVTodayFirst = t.first(ctx, counter.TodayKey(v.FullShortURL, counter.UV, local), v.VisitorID, midnight)
	}
	if v.ClientIP != "" {
		event.UIPHistoryFirst = t.first(ctx, counter.HistoryKey(v.FullShortURL, counter.UIP), v.ClientIP, historyExpire)
		event.UIPTodayFirst = t.first(ctx, counter.TodayKey(v.FullShortURL, counter.UIP, local), v.ClientIP, midnight)
	}

	if err := t.publisher.Publish(ctx, event); err != nil {
		t.metrics.VisitPublishFailed()
		t.logger.ErrorContext(ctx, "publish visit event failed", "code", v.FullShortURL, "error", err)
	}
	return event
}

// TodayCounts 今日 UV / UIP
func (t *Tracker) TodayCounts(ctx context.Context, fullShortURL string) (uv, uip int64, err error) {
	day := t.now().In(t.opts.Location)
	if uv, err = t.counter.Count(ctx, counter.TodayKey(fullShortURL, counter.UV, day)); err != nil {
		return 0, 0, err
	}
	if uip, err = t.counter.Count(ctx, counter.TodayKey(fullShortURL, counter.UIP, day)); err != nil {
		return 0, 0, err
	}
	return uv, uip, nil
}

// first 失敗時降級為 false
func (t *Tracker) first(ctx context.Context, key, member string, expireAt time.Time) bool {
	added, err := t.counter.AddIfAbsent(ctx, key, member, expireAt)
	if err != nil {
		t.metrics.TrackerDegraded()
		t.logger.WarnContext(ctx, "first-visit check failed, defaulting to false", "key", key, "error", err)
		return false
	}
	return added
}
