package link

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/koopa0/system-design/short-link/internal/metrics"
	"github.com/koopa0/system-design/short-link/pkg/base62"
)

// DefaultMaxAttempts 短碼生成的重試上限
const DefaultMaxAttempts = 10

// RoutingChecker 查詢路由表中是否已有 (gid, fullShortURL)
type RoutingChecker interface {
	RoutingExists(ctx context.Context, gid, fullShortURL string) (bool, error)
}

// Generator 短碼生成器
//
// 算法：
//  1. xxhash(originURL) → 折疊為固定長度 Base62
//  2. 檢查 domain/code 是否在過濾器（或路由表）中
//  3. 不存在 → 採用；存在 → 以 originURL + 隨機鹽重新雜湊
//  4. 超過 maxAttempts 次 → ErrGenerationExhausted
//
// 系統設計考量：
//   - 為什麼不用自增 ID？
//     → 自增 ID 可被枚舉，且多實例需要協調發號
//   - 為什麼有重試上限？
//     → 持續碰撞代表容量或雜湊出了問題，必須讓呼叫方看到錯誤
//   - 過濾器可能誤判存在 → 只會多一次重試，不會產生重複短碼
type Generator struct {
	filter      Filter
	routing     RoutingChecker
	codeLength  int
	maxAttempts int
	salt        func() string
	metrics     *metrics.Metrics
}

// NewGenerator 建立生成器
func NewGenerator(filter Filter, routing RoutingChecker, codeLength, maxAttempts int, m *metrics.Metrics) *Generator {
	if codeLength <= 0 {
		codeLength = 6
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		filter:      filter,
		routing:     routing,
		codeLength:  codeLength,
		maxAttempts: maxAttempts,
		salt:        uuid.NewString,
		metrics:     m,
	}
}

// Generate 以過濾器判斷碰撞
func (g *Generator) Generate(ctx context.Context, domain, originURL string) (string, error) {
	return g.derive(ctx, originURL, func(code string) (bool, error) {
		taken, err := g.filter.MightContain(ctx, FullShortURL(domain, code))
		if err != nil {
			return false, fmt.Errorf("check filter: %w", err)
		}
		return taken, nil
	})
}

// GenerateChecked 以路由表判斷碰撞，需在全域建立鎖內呼叫
//
// 過濾器可能誤判，路由表不會：適用於需要確定唯一性的部署。
func (g *Generator) GenerateChecked(ctx context.Context, gid, domain, originURL string) (string, error) {
	return g.derive(ctx, originURL, func(code string) (bool, error) {
		taken, err := g.routing.RoutingExists(ctx, gid, FullShortURL(domain, code))
		if err != nil {
			return false, fmt.Errorf("check routing: %w", err)
		}
		return taken, nil
	})
}

func (g *Generator) derive(ctx context.Context, originURL string, taken func(code string) (bool, error)) (string, error) {
	input := originURL
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code := base62.FromHash(xxhash.Sum64String(input), g.codeLength)
		exists, err := taken(code)
		if err != nil {
			g.metrics.GenerateFailed("check")
			return "", ErrUnavailable.WithCause(err)
		}
		if !exists {
			g.metrics.Generated(attempt)
			return code, nil
		}

		input = originURL + g.salt()
	}

	g.metrics.GenerateFailed("exhausted")
	return "", ErrGenerationExhausted.WithDetails(fmt.Sprintf("%d attempts", g.maxAttempts))
}
