package link

import (
	"context"
	"fmt"
)

// RoutingScanner 逐筆列出路由表中的完整短碼
type RoutingScanner interface {
	ScanRouting(ctx context.Context, fn func(fullShortURL string) error) error
}

// WarmFilter 以路由表重建過濾器，回傳寫入的筆數
//
// 程序內過濾器重啟後是空的，若不重建，既有短碼全部會被判定不存在。
// 必須在開始接收請求之前完成。
func WarmFilter(ctx context.Context, src RoutingScanner, f Filter) (int, error) {
	n := 0
	err := src.ScanRouting(ctx, func(fullShortURL string) error {
		if err := f.Add(ctx, fullShortURL); err != nil {
			return fmt.Errorf("add %s: %w", fullShortURL, err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("warm filter: %w", err)
	}
	return n, nil
}
