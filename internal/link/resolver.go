package link

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/short-link/internal/lock"
	"github.com/koopa0/system-design/short-link/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultAbsentTTL 空值快取存活時間
const DefaultAbsentTTL = 30 * time.Minute

// Source 解析結果的來源
type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
)

// Resolution 解析結果
type Resolution struct {
	OriginURL string
	Source    Source
}

// ResolverOptions 解析器參數
type ResolverOptions struct {
	AbsentTTL time.Duration // 空值快取 TTL
	LockTTL   time.Duration // 鎖租約，持有者崩潰後自動釋放
	LockWait  time.Duration // 等待鎖的上限，逾時回傳 ErrUnavailable
}

// Resolver 短碼解析
//
// 狀態機（依序，第一個有結果的狀態即返回）：
//
//	1. 正向快取命中 → 返回
//	2. 過濾器判定不存在 → 未找到（不查資料庫）
//	3. 空值快取命中 → 未找到（不查資料庫）
//	4. 取得 per-code 鎖，重新檢查 1 與 3（雙重檢查）
//	5. 查路由 → 查鏈接；不存在或已過期 → 寫空值快取，未找到
//	6. 寫正向快取（TTL = 剩餘有效期），返回
//	7. 釋放鎖（所有路徑）
//
// 系統設計考量：
//   - 2、3 吸收了「從未存在」與「剛確認不存在」的全部流量
//   - 4 的鎖保證同一短碼的 N 個併發未命中只有一個查資料庫；
//     其餘 N-1 個取得鎖後在重新檢查時看到結果
//   - 同一程序內先以 singleflight 合併，跨程序再靠分散式鎖
//   - 快取 / 過濾器故障時降級為「未命中」繼續往下走，不直接失敗
type Resolver struct {
	store   Store
	cache   Cache
	filter  Filter
	locker  lock.Locker
	opts    ResolverOptions
	group   singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewResolver 建立解析器
func NewResolver(store Store, cache Cache, filter Filter, locker lock.Locker, opts ResolverOptions, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	if opts.AbsentTTL <= 0 {
		opts.AbsentTTL = DefaultAbsentTTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 3 * time.Second
	}
	return &Resolver{
		store:   store,
		cache:   cache,
		filter:  filter,
		locker:  locker,
		opts:    opts,
		now:     time.Now,
		logger:  logger.With("component", "resolver"),
		metrics: m,
	}
}

// ResolveLockKey 解析用的 per-code 鎖
//
// 以請求的完整短碼為 key，而不是尚未解析出的原始 URL。
func ResolveLockKey(fullShortURL string) string {
	return "shortlink:lock:resolve:" + fullShortURL
}

// Resolve 解析完整短碼
//
// 回傳 ErrNotFound（不存在 / 已刪除 / 已過期）或 ErrUnavailable（鎖逾時、資料庫故障）。
func (r *Resolver) Resolve(ctx context.Context, fullShortURL string) (Resolution, error) {
	// 1. 正向快取
	if url, ok := r.cached(ctx, fullShortURL); ok {
		r.metrics.Resolve(metrics.OutcomeCacheHit)
		return Resolution{OriginURL: url, Source: SourceCache}, nil
	}

	// 2. 過濾器
	present, err := r.filter.MightContain(ctx, fullShortURL)
	if err != nil {
		r.logger.WarnContext(ctx, "filter check failed, falling through", "code", fullShortURL, "error", err)
		present = true
	}
	if !present {
		r.metrics.Resolve(metrics.OutcomeFilterReject)
		return Resolution{}, ErrNotFound
	}

	// 3. 空值快取
	if r.absent(ctx, fullShortURL) {
		r.metrics.Resolve(metrics.OutcomeNegativeHit)
		return Resolution{}, ErrNotFound
	}

	// 4-7. 同程序併發合併後進入鎖保護的載入
	ch := r.group.DoChan(fullShortURL, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.LockWait+r.opts.LockTTL)
		defer cancel()
		return r.load(loadCtx, fullShortURL)
	})

	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Resolution{}, res.Err
		}
		return res.Val.(Resolution), nil
	}
}

// load 取得鎖、雙重檢查、查資料庫、回填快取
func (r *Resolver) load(ctx context.Context, fullShortURL string) (Resolution, error) {
	lease, err := r.locker.Acquire(ctx, ResolveLockKey(fullShortURL), r.opts.LockTTL, r.opts.LockWait)
	if err != nil {
		r.metrics.Resolve(metrics.OutcomeError)
		if errors.Is(err, lock.ErrTimeout) {
			r.logger.WarnContext(ctx, "resolve lock wait timed out", "code", fullShortURL, "wait", r.opts.LockWait)
		} else {
			r.logger.ErrorContext(ctx, "resolve lock failed", "code", fullShortURL, "error", err)
		}
		return Resolution{}, ErrUnavailable.WithCause(err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "release resolve lock failed", "code", fullShortURL, "error", err)
		}
	}()

	// 雙重檢查：等待鎖期間其他請求可能已經回填
	if url, ok := r.cached(ctx, fullShortURL); ok {
		r.metrics.Resolve(metrics.OutcomeCacheHit)
		return Resolution{OriginURL: url, Source: SourceCache}, nil
	}
	if r.absent(ctx, fullShortURL) {
		r.metrics.Resolve(metrics.OutcomeNegativeHit)
		return Resolution{}, ErrNotFound
	}

	// 5. 查資料庫：路由 → 鏈接
	r.metrics.StoreQuery("short_link_goto")
	route, err := r.store.FindRouting(ctx, fullShortURL)
	if err != nil {
		return Resolution{}, r.storeMiss(ctx, fullShortURL, err)
	}

	r.metrics.StoreQuery("short_link")
	l, err := r.store.FindActive(ctx, route.GID, fullShortURL)
	if err != nil {
		return Resolution{}, r.storeMiss(ctx, fullShortURL, err)
	}

	now := r.now()
	if l.Expired(now) {
		return Resolution{}, r.storeMiss(ctx, fullShortURL, ErrNotFound)
	}

	// 6. 回填正向快取
	if err := r.cache.Set(ctx, fullShortURL, l.OriginURL, l.CacheTTL(now)); err != nil {
		r.logger.WarnContext(ctx, "populate resolve cache failed", "code", fullShortURL, "error", err)
	}
	r.metrics.Resolve(metrics.OutcomeStoreHit)
	return Resolution{OriginURL: l.OriginURL, Source: SourceStore}, nil
}

// storeMiss 確認不存在時寫空值快取；資料庫故障不寫，避免把故障快取成「不存在」
func (r *Resolver) storeMiss(ctx context.Context, fullShortURL string, err error) error {
	if !errors.Is(err, ErrNotFound) {
		r.metrics.Resolve(metrics.OutcomeError)
		r.logger.ErrorContext(ctx, "resolve store query failed", "code", fullShortURL, "error", err)
		return ErrUnavailable.WithCause(err)
	}

	r.metrics.Resolve(metrics.OutcomeStoreMiss)
	if err := r.cache.MarkAbsent(ctx, fullShortURL, r.opts.AbsentTTL); err != nil {
		r.logger.WarnContext(ctx, "mark absent failed", "code", fullShortURL, "error", err)
	}
	return ErrNotFound
}

func (r *Resolver) cached(ctx context.Context, fullShortURL string) (string, bool) {
	url, ok, err := r.cache.Get(ctx, fullShortURL)
	if err != nil {
		r.logger.WarnContext(ctx, "resolve cache read failed", "code", fullShortURL, "error", err)
		return "", false
	}
	return url, ok
}

func (r *Resolver) absent(ctx context.Context, fullShortURL string) bool {
	absent, err := r.cache.IsAbsent(ctx, fullShortURL)
	if err != nil {
		r.logger.WarnContext(ctx, "absent cache read failed", "code", fullShortURL, "error", err)
		return false
	}
	return absent
}
