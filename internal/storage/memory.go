package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/short-link/internal/link"
)

// Memory 程序內 Store，用於單機部署與測試
//
// 解析路徑上的查詢（FindRouting、FindActive）以原子計數器記錄，
// 測試用來驗證穿透與擊穿保護。
type Memory struct {
	mu      sync.RWMutex
	links   map[int64]*link.ShortLink
	routing map[string]string // full_short_url → gid
	nextID  int64

	// 記錄呼叫次數
	RoutingQueries atomic.Int64
	LinkQueries    atomic.Int64

	// QueryDelay 每次查詢前的延遲，用於放大併發窗口
	QueryDelay time.Duration

	failNext atomic.Pointer[error]
}

// NewMemory 建立程序內 Store
func NewMemory() *Memory {
	return &Memory{
		links:   make(map[int64]*link.ShortLink),
		routing: make(map[string]string),
	}
}

// Queries 解析路徑上的查詢總數
func (m *Memory) Queries() int64 {
	return m.RoutingQueries.Load() + m.LinkQueries.Load()
}

// FailNext 下一次呼叫回傳 err
func (m *Memory) FailNext(err error) {
	m.failNext.Store(&err)
}

func (m *Memory) injected() error {
	if p := m.failNext.Swap(nil); p != nil {
		return *p
	}
	return nil
}

// CreateLink 寫入鏈接與路由
func (m *Memory) CreateLink(_ context.Context, l *link.ShortLink) error {
	if err := m.injected(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.routing[l.FullShortURL]; ok || m.activeLocked(l.FullShortURL) != nil {
		return link.ErrDuplicateCode
	}
	m.putLocked(l)
	m.routing[l.FullShortURL] = l.GID
	return nil
}

// FindRouting 依完整短碼查詢路由
func (m *Memory) FindRouting(_ context.Context, fullShortURL string) (link.RoutingRecord, error) {
	m.RoutingQueries.Add(1)
	m.sleep()
	if err := m.injected(); err != nil {
		return link.RoutingRecord{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	gid, ok := m.routing[fullShortURL]
	if !ok {
		return link.RoutingRecord{}, link.ErrNotFound
	}
	return link.RoutingRecord{FullShortURL: fullShortURL, GID: gid}, nil
}

// FindActive 查詢未刪除且啟用的鏈接
func (m *Memory) FindActive(_ context.Context, gid, fullShortURL string) (*link.ShortLink, error) {
	m.LinkQueries.Add(1)
	m.sleep()
	if err := m.injected(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	l := m.activeLocked(fullShortURL)
	if l == nil || l.GID != gid || !l.Enabled {
		return nil, link.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// RoutingExists 路由表中是否已有 (gid, fullShortURL)
func (m *Memory) RoutingExists(_ context.Context, gid, fullShortURL string) (bool, error) {
	if err := m.injected(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.routing[fullShortURL]
	return ok && owner == gid, nil
}

// UpdateLink 原地更新
func (m *Memory) UpdateLink(_ context.Context, l *link.ShortLink) error {
	if err := m.injected(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.links[l.ID]
	if !ok || cur.Deleted {
		return link.ErrNotFound
	}
	m.putLocked(l)
	return nil
}

// MoveGroup 軟刪除舊列、寫入新列、重新指向路由
func (m *Memory) MoveGroup(_ context.Context, from, to *link.ShortLink) error {
	if err := m.injected(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.links[from.ID]
	if !ok || cur.Deleted {
		return link.ErrNotFound
	}
	to.TotalPV, to.TotalUV, to.TotalUIP = cur.TotalPV, cur.TotalUV, cur.TotalUIP
	cur.Deleted = true
	cur.DeletedAt = to.UpdatedAt
	cur.UpdatedAt = to.UpdatedAt

	m.putLocked(to)
	m.routing[to.FullShortURL] = to.GID
	return nil
}

// IncrementStats 累加統計欄位
func (m *Memory) IncrementStats(_ context.Context, fullShortURL string, pv, uv, uip int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l := m.activeLocked(fullShortURL); l != nil {
		l.TotalPV += pv
		l.TotalUV += uv
		l.TotalUIP += uip
	}
	return nil
}

// ScanRouting 逐筆列出路由；快照後才呼叫 fn，fn 內可再操作 store
func (m *Memory) ScanRouting(ctx context.Context, fn func(fullShortURL string) error) error {
	if err := m.injected(); err != nil {
		return err
	}

	m.mu.RLock()
	urls := make([]string, 0, len(m.routing))
	for full := range m.routing {
		urls = append(urls, full)
	}
	m.mu.RUnlock()

	for _, full := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(full); err != nil {
			return err
		}
	}
	return nil
}

// Links 所有資料列（含已刪除），測試用
func (m *Memory) Links(fullShortURL string) []link.ShortLink {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []link.ShortLink
	for _, l := range m.links {
		if l.FullShortURL == fullShortURL {
			out = append(out, *l)
		}
	}
	return out
}

func (m *Memory) activeLocked(fullShortURL string) *link.ShortLink {
	for _, l := range m.links {
		if l.FullShortURL == fullShortURL && !l.Deleted {
			return l
		}
	}
	return nil
}

func (m *Memory) putLocked(l *link.ShortLink) {
	cp := *l
	if cp.ID == 0 {
		m.nextID++
		cp.ID = m.nextID
		l.ID = cp.ID
	}
	m.links[cp.ID] = &cp
}

func (m *Memory) sleep() {
	if m.QueryDelay > 0 {
		time.Sleep(m.QueryDelay)
	}
}
