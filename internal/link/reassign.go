package link

import (
	"context"
	"fmt"
	"time"
)

// GroupLockKey 群組遷移讀寫鎖
func GroupLockKey(fullShortURL string) string {
	return "shortlink:lock:gid-update:" + fullShortURL
}

// UpdateRequest 更新請求
//
// OriginGID 為目前所屬群組，GID 為目標群組；兩者相同時原地更新。
type UpdateRequest struct {
	FullShortURL  string
	OriginGID     string
	GID           string
	OriginURL     string
	Description   string
	Favicon       string
	ValidDateType ExpiryPolicy
	ValidDate     time.Time
}

// Update 更新短鏈接，必要時跨群組遷移
//
// 跨群組時不直接修改 gid（資料可能依 gid 分片），而是：
//  1. 取得以短碼為 key 的寫鎖（只排除同一短碼的其他遷移與統計讀取，解析不受影響）
//  2. 軟刪除舊列 + 寫入新列（沿用計數器、favicon、網域）+ 重新指向路由（同一交易）
//  3. 原始 URL 或有效期改變 → 刪除正向快取
//  4. 原本已過期、更新後有效 → 刪除空值快取
func (s *Service) Update(ctx context.Context, req UpdateRequest) error {
	if req.FullShortURL == "" || req.OriginGID == "" {
		return ErrInvalidRequest.WithDetails("full_short_url and origin_gid are required")
	}
	if req.GID == "" {
		req.GID = req.OriginGID
	}
	if err := validateOriginURL(req.OriginURL); err != nil {
		return err
	}
	if s.allowlist != nil && !s.allowlist.Allowed(req.OriginURL) {
		return ErrDomainNotAllowed
	}

	current, err := s.store.FindActive(ctx, req.OriginGID, req.FullShortURL)
	if err != nil {
		return err
	}

	now := s.now()
	updated := *current
	updated.OriginURL = req.OriginURL
	updated.Description = req.Description
	if req.Favicon != "" {
		updated.Favicon = req.Favicon
	}
	updated.ValidDateType = req.ValidDateType
	updated.ValidDate = req.ValidDate
	if updated.ValidDateType != ValidCustom {
		updated.ValidDate = time.Time{}
	}
	updated.UpdatedAt = now

	if req.GID == req.OriginGID {
		if err := s.store.UpdateLink(ctx, &updated); err != nil {
			return fmt.Errorf("update link: %w", err)
		}
		s.invalidate(ctx, current, &updated, now)
		return nil
	}

	return s.move(ctx, current, &updated, req.GID, now)
}

// move 在寫鎖內完成跨群組遷移
func (s *Service) move(ctx context.Context, current, updated *ShortLink, gid string, now time.Time) error {
	key := GroupLockKey(current.FullShortURL)
	lease, err := s.rw.Lock(ctx, key, s.opts.LockTTL, s.opts.LockWait)
	if err != nil {
		return ErrUnavailable.WithCause(err)
	}
	defer s.release(ctx, lease, key)

	// 持鎖後重新讀取：讀取與上鎖之間，統計可能已經寫回舊列
	fresh, err := s.store.FindActive(ctx, current.GID, current.FullShortURL)
	if err != nil {
		return err
	}

	id, err := s.ids.Next()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}

	moved := *updated
	moved.ID = id
	moved.GID = gid
	moved.Enabled = true
	moved.Deleted = false
	moved.DeletedAt = time.Time{}
	moved.CreatedAt = now
	moved.TotalPV, moved.TotalUV, moved.TotalUIP = fresh.TotalPV, fresh.TotalUV, fresh.TotalUIP

	// 計數器以交易內的舊列為準，MoveGroup 會再覆寫一次
	if err := s.store.MoveGroup(ctx, fresh, &moved); err != nil {
		return fmt.Errorf("move link to group %s: %w", gid, err)
	}

	s.logger.InfoContext(ctx, "short link moved",
		"code", current.FullShortURL,
		"from_gid", current.GID,
		"to_gid", gid)

	s.invalidate(ctx, current, &moved, now)
	return nil
}

// invalidate 依變更內容清除快取
func (s *Service) invalidate(ctx context.Context, before, after *ShortLink, now time.Time) {
	changed := before.OriginURL != after.OriginURL ||
		before.ValidDateType != after.ValidDateType ||
		!before.ValidDate.Equal(after.ValidDate)
	if !changed {
		return
	}

	if err := s.cache.Delete(ctx, after.FullShortURL); err != nil {
		s.logger.WarnContext(ctx, "invalidate resolve cache failed", "code", after.FullShortURL, "error", err)
	}
	if before.Expired(now) && !after.Expired(now) {
		if err := s.cache.ClearAbsent(ctx, after.FullShortURL); err != nil {
			s.logger.WarnContext(ctx, "clear absent cache failed", "code", after.FullShortURL, "error", err)
		}
	}
}
