package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/short-link/internal/lock"
	"github.com/koopa0/system-design/short-link/internal/metrics"
)

// CreateLockKey 鎖保護生成模式的全域建立鎖
const CreateLockKey = "shortlink:lock:create"

// Options 服務參數
type Options struct {
	Domain      string        // 短鏈接網域
	LockTTL     time.Duration // 建立鎖與群組遷移鎖的租約
	LockWait    time.Duration // 群組遷移、統計讀取等待讀寫鎖的上限
	MaxBatch    int           // 批次建立的上限
	DefaultIcon string
}

// Deps 服務依賴
type Deps struct {
	Store     Store
	Cache     Cache
	Filter    Filter
	Locker    lock.Locker
	RWLocker  lock.RWLocker
	Generator *Generator
	Resolver  *Resolver
	Tracker   *Tracker
	Allowlist Allowlist
	IDs       IDGenerator
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Service 短鏈接服務
type Service struct {
	store     Store
	cache     Cache
	filter    Filter
	locker    lock.Locker
	rw        lock.RWLocker
	gen       *Generator
	resolver  *Resolver
	tracker   *Tracker
	allowlist Allowlist
	ids       IDGenerator
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewService 建立服務
func NewService(d Deps, opts Options) *Service {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 3 * time.Second
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 100
	}
	return &Service{
		store:     d.Store,
		cache:     d.Cache,
		filter:    d.Filter,
		locker:    d.Locker,
		rw:        d.RWLocker,
		gen:       d.Generator,
		resolver:  d.Resolver,
		tracker:   d.Tracker,
		allowlist: d.Allowlist,
		ids:       d.IDs,
		opts:      opts,
		now:       time.Now,
		logger:    d.Logger.With("component", "service"),
		metrics:   d.Metrics,
	}
}

// CreateRequest 建立請求
type CreateRequest struct {
	GID           string
	OriginURL     string
	Description   string
	Favicon       string
	CreatedType   CreatedType
	ValidDateType ExpiryPolicy
	ValidDate     time.Time
}

// CreateResult 建立結果
type CreateResult struct {
	FullShortURL string `json:"full_short_url"`
	OriginURL    string `json:"origin_url"`
	GID          string `json:"gid"`
}

// Create 建立短鏈接（過濾器判斷碰撞）
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := s.validateCreate(req); err != nil {
		return CreateResult{}, err
	}

	code, err := s.gen.Generate(ctx, s.opts.Domain, req.OriginURL)
	if err != nil {
		s.logger.WarnContext(ctx, "generate short code failed", "gid", req.GID, "error", err)
		return CreateResult{}, err
	}
	return s.persist(ctx, req, code)
}

// CreateWithLock 建立短鏈接（全域建立鎖 + 路由表判斷碰撞）
//
// 鎖被佔用時立即回傳 ErrLockConflict，不排隊等待。
func (s *Service) CreateWithLock(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := s.validateCreate(req); err != nil {
		return CreateResult{}, err
	}

	lease, ok, err := s.locker.TryAcquire(ctx, CreateLockKey, s.opts.LockTTL)
	if err != nil {
		return CreateResult{}, ErrUnavailable.WithCause(err)
	}
	if !ok {
		return CreateResult{}, ErrLockConflict
	}
	defer s.release(ctx, lease, CreateLockKey)

	code, err := s.gen.GenerateChecked(ctx, req.GID, s.opts.Domain, req.OriginURL)
	if err != nil {
		s.logger.WarnContext(ctx, "generate short code failed", "gid", req.GID, "error", err)
		return CreateResult{}, err
	}
	return s.persist(ctx, req, code)
}

// persist 加入過濾器、寫入資料庫、回填快取
//
// 過濾器先於寫入：加入失敗就不寫入，資料庫裡的短碼一定在過濾器裡。
// 寫入失敗留下的位元只會造成誤判存在，解析時由空值快取與資料庫兜底。
// 呼叫方（可能持有建立鎖）釋放鎖之前，後續的生成與解析都已經看得到這個短碼。
func (s *Service) persist(ctx context.Context, req CreateRequest, code string) (CreateResult, error) {
	id, err := s.ids.Next()
	if err != nil {
		return CreateResult{}, fmt.Errorf("generate id: %w", err)
	}

	now := s.now()
	full := FullShortURL(s.opts.Domain, code)
	favicon := req.Favicon
	if favicon == "" {
		favicon = s.opts.DefaultIcon
	}

	l := &ShortLink{
		ID:            id,
		GID:           req.GID,
		Domain:        s.opts.Domain,
		ShortURI:      code,
		FullShortURL:  full,
		OriginURL:     req.OriginURL,
		Description:   req.Description,
		Favicon:       favicon,
		CreatedType:   req.CreatedType,
		ValidDateType: req.ValidDateType,
		ValidDate:     req.ValidDate,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if l.ValidDateType != ValidCustom {
		l.ValidDate = time.Time{}
	}

	if err := s.filter.Add(ctx, full); err != nil {
		s.logger.ErrorContext(ctx, "add code to filter failed", "code", full, "error", err)
		return CreateResult{}, ErrUnavailable.WithCause(err)
	}

	if err := s.store.CreateLink(ctx, l); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			// 過濾器漏掉了這個短碼（重建、資料遷移），上面已經補上，下一次生成會避開
			s.logger.WarnContext(ctx, "duplicate short code on insert", "code", full, "gid", req.GID)
			s.metrics.GenerateFailed("duplicate")
			return CreateResult{}, err
		}
		return CreateResult{}, fmt.Errorf("create link: %w", err)
	}

	if err := s.cache.Set(ctx, full, l.OriginURL, l.CacheTTL(now)); err != nil {
		s.logger.WarnContext(ctx, "populate resolve cache failed", "code", full, "error", err)
	}
	s.logger.InfoContext(ctx, "short link created", "code", full, "gid", l.GID)
	return CreateResult{FullShortURL: full, OriginURL: l.OriginURL, GID: l.GID}, nil
}

// BatchFailure 批次建立中失敗的項目
type BatchFailure struct {
	Index     int    `json:"index"`
	OriginURL string `json:"origin_url"`
	Error     string `json:"error"`
}

// BatchResult 批次建立結果
type BatchResult struct {
	Succeeded []CreateResult `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// BatchCreate 批次建立，各項目獨立成功或失敗
func (s *Service) BatchCreate(ctx context.Context, reqs []CreateRequest) (BatchResult, error) {
	if len(reqs) == 0 || len(reqs) > s.opts.MaxBatch {
		return BatchResult{}, ErrInvalidRequest.WithDetails(fmt.Sprintf("batch size must be between 1 and %d", s.opts.MaxBatch))
	}

	result := BatchResult{
		Succeeded: make([]CreateResult, 0, len(reqs)),
		Failed:    []BatchFailure{},
	}
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := s.Create(ctx, req)
		if err != nil {
			s.logger.WarnContext(ctx, "batch item failed", "index", i, "origin_url", req.OriginURL, "error", err)
			result.Failed = append(result.Failed, BatchFailure{Index: i, OriginURL: req.OriginURL, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, res)
	}
	return result, nil
}

// Redirect 解析短碼並提交訪問追蹤
func (s *Service) Redirect(ctx context.Context, v Visit) (string, error) {
	res, err := s.resolver.Resolve(ctx, v.FullShortURL)
	if err != nil {
		return "", err
	}
	if s.tracker != nil {
		if v.At.IsZero() {
			v.At = s.now()
		}
		s.tracker.Submit(v)
	}
	return res.OriginURL, nil
}

// Resolve 只解析，不追蹤
func (s *Service) Resolve(ctx context.Context, fullShortURL string) (string, error) {
	res, err := s.resolver.Resolve(ctx, fullShortURL)
	if err != nil {
		return "", err
	}
	return res.OriginURL, nil
}

// Stats 統計資料
type Stats struct {
	FullShortURL string `json:"full_short_url"`
	GID          string `json:"gid"`
	OriginURL    string `json:"origin_url"`
	TotalPV      int64  `json:"total_pv"`
	TotalUV      int64  `json:"total_uv"`
	TotalUIP     int64  `json:"total_uip"`
	TodayUV      int64  `json:"today_uv"`
	TodayUIP     int64  `json:"today_uip"`
}

// Stats 查詢統計，持有群組遷移讀鎖，避免讀到遷移中間狀態
func (s *Service) Stats(ctx context.Context, gid, fullShortURL string) (Stats, error) {
	key := GroupLockKey(fullShortURL)
	lease, err := s.rw.RLock(ctx, key, s.opts.LockTTL, s.opts.LockWait)
	if err != nil {
		return Stats{}, ErrUnavailable.WithCause(err)
	}
	defer s.release(ctx, lease, key)

	l, err := s.store.FindActive(ctx, gid, fullShortURL)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		FullShortURL: l.FullShortURL,
		GID:          l.GID,
		OriginURL:    l.OriginURL,
		TotalPV:      l.TotalPV,
		TotalUV:      l.TotalUV,
		TotalUIP:     l.TotalUIP,
	}
	if s.tracker != nil {
		uv, uip, err := s.tracker.TodayCounts(ctx, fullShortURL)
		if err != nil {
			s.logger.WarnContext(ctx, "read today counts failed", "code", fullShortURL, "error", err)
		}
		st.TodayUV, st.TodayUIP = uv, uip
	}
	return st, nil
}

// Domains 白名單網域
func (s *Service) Domains() []string {
	if s.allowlist == nil {
		return nil
	}
	return s.allowlist.Domains()
}

func (s *Service) validateCreate(req CreateRequest) error {
	if req.GID == "" {
		return ErrInvalidRequest.WithDetails("gid is required")
	}
	if err := validateOriginURL(req.OriginURL); err != nil {
		return err
	}
	if s.allowlist != nil && !s.allowlist.Allowed(req.OriginURL) {
		return ErrDomainNotAllowed
	}
	if req.ValidDateType == ValidCustom && !req.ValidDate.After(s.now()) {
		return ErrInvalidRequest.WithDetails("valid_date must be in the future")
	}
	return nil
}

func (s *Service) release(ctx context.Context, lease lock.Lease, key string) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		s.logger.WarnContext(ctx, "release lock failed", "key", key, "error", err)
	}
}
