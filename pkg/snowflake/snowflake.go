// Package snowflake 產生短鏈接資料列的主鍵
//
// ID 結構（64 bit）：
//
//	0 | 41 bit 毫秒時間戳 | 10 bit 節點 ID | 12 bit 序列號
//
// 系統設計考量：
//   - 主鍵大致遞增，B-Tree 索引插入集中在尾端
//   - 群組遷移會插入新列（舊列軟刪除），主鍵不能沿用舊值
//   - 每個節點本地生成，不需要資料庫序列
package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// epoch 2024-01-01 00:00:00 UTC
	epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	maxNode     = (1 << nodeBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	nodeShift = sequenceBits
	timeShift = sequenceBits + nodeBits
)

var (
	// ErrInvalidNode 節點 ID 超出 0-1023
	ErrInvalidNode = errors.New("snowflake: node id must be between 0 and 1023")

	// ErrClockMovedBackwards 時鐘回撥
	ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")
)

// Generator 併發安全的 ID 產生器
type Generator struct {
	mu       sync.Mutex
	node     int64
	sequence int64
	last     int64
	now      func() int64
}

// NewGenerator 建立節點 ID 為 node 的產生器
func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > maxNode {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidNode, node)
	}
	return &Generator{
		node: node,
		now:  func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Next 產生下一個 ID
//
// 同一毫秒內序列號用盡時，等待下一毫秒。
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	if ts < g.last {
		return 0, fmt.Errorf("%w: last=%d current=%d", ErrClockMovedBackwards, g.last, ts)
	}

	if ts == g.last {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for ts <= g.last {
				time.Sleep(10 * time.Microsecond)
				ts = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.last = ts

	return ((ts - epoch) << timeShift) | (g.node << nodeShift) | g.sequence, nil
}

// Time 取出 ID 中的生成時間
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}

// Node 取出 ID 中的節點 ID
func Node(id int64) int64 {
	return (id >> nodeShift) & maxNode
}
