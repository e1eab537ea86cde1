package counter

import (
	"context"
	"sync"
	"time"
)

// Memory 程序內計數器，用於單機部署與測試
type Memory struct {
	mu   sync.Mutex
	sets map[string]*memorySet
	now  func() time.Time
	fail error
}

type memorySet struct {
	members  map[string]struct{}
	expireAt time.Time
}

// NewMemory 建立程序內計數器
func NewMemory() *Memory {
	return &Memory{sets: make(map[string]*memorySet), now: time.Now}
}

// SetClock 替換時鐘（測試用）
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetFailure 之後的呼叫都回傳 err，nil 恢復正常
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// AddIfAbsent 加入集合，回傳是否為新成員
func (m *Memory) AddIfAbsent(_ context.Context, key, member string, expireAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return false, m.fail
	}

	s := m.liveLocked(key)
	if s == nil {
		s = &memorySet{members: make(map[string]struct{}), expireAt: expireAt}
		m.sets[key] = s
	}
	if _, ok := s.members[member]; ok {
		return false, nil
	}
	s.members[member] = struct{}{}
	return true, nil
}

// Count 集合大小
func (m *Memory) Count(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return 0, m.fail
	}
	if s := m.liveLocked(key); s != nil {
		return int64(len(s.members)), nil
	}
	return 0, nil
}

func (m *Memory) liveLocked(key string) *memorySet {
	s, ok := m.sets[key]
	if !ok {
		return nil
	}
	if !s.expireAt.IsZero() && !m.now().Before(s.expireAt) {
		delete(m.sets, key)
		return nil
	}
	return s
}
