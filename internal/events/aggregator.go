package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/short-link/internal/link"
	"github.com/koopa0/system-design/short-link/internal/lock"
)

// StatsWriter 累加鏈接統計欄位
type StatsWriter interface {
	IncrementStats(ctx context.Context, fullShortURL string, pv, uv, uip int64) error
}

// AggregatorOptions 批量參數
type AggregatorOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int

	// Locker 非 nil 時，寫回每個短碼前先取得群組遷移讀鎖，
	// 避免遷移交易軟刪除舊列後，這批增量落在已刪除的列上
	Locker   lock.RWLocker
	LockTTL  time.Duration
	LockWait time.Duration
}

type delta struct {
	pv, uv, uip int64
}

// StatsAggregator 合併訪問事件後批量寫入資料庫
//
// 系統設計考量：
//   - 每次訪問都 UPDATE 一次資料庫，熱門短碼會變成寫入熱點
//   - 緩衝聚合：同一短碼的多次訪問合併成一次 UPDATE
//   - 兩種刷新條件：達到 BatchSize 或 FlushInterval 到期
//   - PV 每次 +1；UV/UIP 只在全期間首次訪問時 +1
type StatsAggregator struct {
	writer StatsWriter
	opts   AggregatorOptions
	logger *slog.Logger

	buffer chan link.VisitEvent
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewStatsAggregator 建立並啟動背景批量 worker
func NewStatsAggregator(w StatsWriter, opts AggregatorOptions, logger *slog.Logger) *StatsAggregator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = opts.BatchSize * 2
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 3 * time.Second
	}

	a := &StatsAggregator{
		writer: w,
		opts:   opts,
		logger: logger.With("component", "stats_aggregator"),
		buffer: make(chan link.VisitEvent, opts.BufferSize),
	}
	a.wg.Add(1)
	go a.batchWorker()
	return a
}

// Publish 實現 link.Publisher
//
// 緩衝已滿時阻塞到 ctx 結束；呼叫端是 Tracker 的 worker，不在重新導向路徑上。
func (a *StatsAggregator) Publish(ctx context.Context, e link.VisitEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return link.ErrTrackerClosed
	}
	select {
	case a.buffer <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收，刷新剩餘資料後返回
func (a *StatsAggregator) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.buffer)
	}
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}

func (a *StatsAggregator) batchWorker() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	merged := make(map[string]*delta)
	pending := 0

	// flush 寫回合併後的增量；取不到鎖的短碼留到下一輪，final 時只能放棄
	flush := func(final bool) {
		if pending == 0 {
			return
		}

		ctx := context.Background()
		for code, d := range merged {
			err := a.write(ctx, code, d)
			if errors.Is(err, errLockBusy) && !final {
				a.logger.Warn("group locked, deferring stats", "code", code, "pv", d.pv)
				continue
			}
			if err != nil {
				a.logger.Error("failed to flush stats",
					"code", code,
					"pv", d.pv,
					"uv", d.uv,
					"uip", d.uip,
					"error", err)
			}
			delete(merged, code)
		}

		pending = len(merged)
	}

	for {
		select {
		case e, ok := <-a.buffer:
			if !ok {
				flush(true)
				return
			}

			d := merged[e.FullShortURL]
			if d == nil {
				d = &delta{}
				merged[e.FullShortURL] = d
			}
			d.pv++
			if e.UVHistoryFirst {
				d.uv++
			}
			if e.UIPHistoryFirst {
				d.uip++
			}

			pending++
			if pending >= a.opts.BatchSize {
				flush(false)
			}

		case <-ticker.C:
			flush(false)
		}
	}
}

// errLockBusy 群組遷移進行中
var errLockBusy = errors.New("group lock busy")

// write 在群組讀鎖內寫回單一短碼的增量
func (a *StatsAggregator) write(ctx context.Context, code string, d *delta) error {
	if a.opts.Locker == nil {
		return a.writer.IncrementStats(ctx, code, d.pv, d.uv, d.uip)
	}

	key := link.GroupLockKey(code)
	lease, err := a.opts.Locker.RLock(ctx, key, a.opts.LockTTL, a.opts.LockWait)
	if err != nil {
		return fmt.Errorf("%w: %w", errLockBusy, err)
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			a.logger.Warn("release group lock failed", "key", key, "error", err)
		}
	}()

	return a.writer.IncrementStats(ctx, code, d.pv, d.uv, d.uip)
}
