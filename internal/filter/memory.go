package filter

import (
	"context"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Memory 程序內布隆過濾器
//
// 以一次 64 位 xxhash 拆成兩個 32 位雜湊，再用 h1 + i*h2 推導 k 個位置
// （Kirsch–Mitzenmacher），不需要 k 個獨立雜湊函數。
type Memory struct {
	mu   sync.RWMutex
	bits []uint64
	m    uint64 // 位元數
	k    uint64 // 雜湊次數
}

// NewMemory 依預期元素數與誤判率建立過濾器
//
//	m = -n·ln(p) / (ln2)²
//	k = (m/n)·ln2
func NewMemory(capacity int64, errorRate float64) *Memory {
	if capacity <= 0 {
		capacity = 1
	}
	if errorRate <= 0 || errorRate >= 1 {
		errorRate = 0.001
	}

	n := float64(capacity)
	m := uint64(math.Ceil(-n * math.Log(errorRate) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := uint64(math.Round(float64(m) / n * math.Ln2))
	if k < 1 {
		k = 1
	}

	return &Memory{
		bits: make([]uint64, (m+63)/64),
		m:    m,
		k:    k,
	}
}

// Add 加入元素
func (f *Memory) Add(_ context.Context, item string) error {
	h1, h2 := split(item)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	return nil
}

// MightContain 元素是否可能存在
func (f *Memory) MightContain(_ context.Context, item string) (bool, error) {
	h1, h2 := split(item)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false, nil
		}
	}
	return true, nil
}

func split(item string) (uint64, uint64) {
	h := xxhash.Sum64String(item)
	// h2 取奇數，避免與 m 有公因數時位置重複
	return h & 0xffffffff, (h >> 32) | 1
}
