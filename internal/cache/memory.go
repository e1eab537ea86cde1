package cache

import (
	"context"
	"sync"
	"time"
)

// Memory 程序內快取，用於單機部署與測試
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemory 建立程序內快取
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// SetClock 替換時鐘（測試 TTL 用）
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get 查詢正向快取
func (m *Memory) Get(_ context.Context, fullShortURL string) (string, bool, error) {
	v, ok := m.get(ResolveKey(fullShortURL))
	return v, ok, nil
}

// Set 寫入正向快取
func (m *Memory) Set(_ context.Context, fullShortURL, originURL string, ttl time.Duration) error {
	if ttl > 0 {
		m.set(ResolveKey(fullShortURL), originURL, ttl)
	}
	return nil
}

// Delete 刪除正向快取
func (m *Memory) Delete(_ context.Context, fullShortURL string) error {
	m.del(ResolveKey(fullShortURL))
	return nil
}

// IsAbsent 查詢空值快取
func (m *Memory) IsAbsent(_ context.Context, fullShortURL string) (bool, error) {
	_, ok := m.get(AbsentKey(fullShortURL))
	return ok, nil
}

// MarkAbsent 寫入空值快取
func (m *Memory) MarkAbsent(_ context.Context, fullShortURL string, ttl time.Duration) error {
	m.set(AbsentKey(fullShortURL), absentValue, ttl)
	return nil
}

// ClearAbsent 刪除空值快取
func (m *Memory) ClearAbsent(_ context.Context, fullShortURL string) error {
	m.del(AbsentKey(fullShortURL))
	return nil
}

func (m *Memory) get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expires) {
		return "", false
	}
	return e.value, true
}

func (m *Memory) set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expires: m.now().Add(ttl)}
}

func (m *Memory) del(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}
