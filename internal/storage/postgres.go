// Package storage 實現短鏈接與路由的持久化
//
// 兩張表：
//   - short_link：鏈接本體，軟刪除保留歷史
//   - short_link_goto：路由記錄，full_short_url → gid
//
// 解析路徑只做兩次主鍵 / 唯一索引查詢：先查路由取得 gid，再查鏈接。
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/system-design/short-link/internal/link"
)

// uniqueViolation PostgreSQL 唯一性約束錯誤碼
const uniqueViolation = "23505"

// querier pgxpool.Pool 與 pgx.Tx 共同的方法
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres 基於 PostgreSQL 的 Store
type Postgres struct {
	pool *pgxpool.Pool
	ids  link.IDGenerator
}

// NewPostgres 建立 Postgres store，ids 用於路由記錄主鍵
func NewPostgres(pool *pgxpool.Pool, ids link.IDGenerator) *Postgres {
	return &Postgres{pool: pool, ids: ids}
}

const linkColumns = `id, gid, domain, short_uri, full_short_url, origin_url, description, favicon,
	created_type, valid_date_type, valid_date, enable_status, del_flag, del_time,
	total_pv, total_uv, total_uip, created_at, updated_at`

// CreateLink 同一個交易內寫入鏈接與路由
func (p *Postgres) CreateLink(ctx context.Context, l *link.ShortLink) error {
	routeID, err := p.ids.Next()
	if err != nil {
		return fmt.Errorf("generate routing id: %w", err)
	}

	return p.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertLink(ctx, tx, l); err != nil {
			return err
		}
		return insertRouting(ctx, tx, routeID, l.GID, l.FullShortURL)
	})
}

// FindRouting 依完整短碼查詢路由
func (p *Postgres) FindRouting(ctx context.Context, fullShortURL string) (link.RoutingRecord, error) {
	rec := link.RoutingRecord{FullShortURL: fullShortURL}
	err := p.pool.QueryRow(ctx,
		`SELECT gid FROM short_link_goto WHERE full_short_url = $1`, fullShortURL,
	).Scan(&rec.GID)
	if errors.Is(err, pgx.ErrNoRows) {
		return link.RoutingRecord{}, link.ErrNotFound
	}
	if err != nil {
		return link.RoutingRecord{}, fmt.Errorf("find routing %s: %w", fullShortURL, err)
	}
	return rec, nil
}

// FindActive 查詢未刪除且啟用的鏈接
func (p *Postgres) FindActive(ctx context.Context, gid, fullShortURL string) (*link.ShortLink, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM short_link
		 WHERE gid = $1 AND full_short_url = $2 AND del_flag = 0 AND enable_status = 0`,
		gid, fullShortURL)

	l, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, link.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find link %s: %w", fullShortURL, err)
	}
	return l, nil
}

// RoutingExists 路由表中是否已有 (gid, fullShortURL)
func (p *Postgres) RoutingExists(ctx context.Context, gid, fullShortURL string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM short_link_goto WHERE gid = $1 AND full_short_url = $2)`,
		gid, fullShortURL,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check routing %s: %w", fullShortURL, err)
	}
	return exists, nil
}

// UpdateLink 原地更新可變欄位
func (p *Postgres) UpdateLink(ctx context.Context, l *link.ShortLink) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE short_link
		 SET origin_url = $1, description = $2, favicon = $3,
		     valid_date_type = $4, valid_date = $5, updated_at = $6
		 WHERE id = $7 AND del_flag = 0`,
		l.OriginURL, l.Description, l.Favicon,
		int16(l.ValidDateType), nullTime(l.ValidDate), l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("update link %s: %w", l.FullShortURL, err)
	}
	if tag.RowsAffected() == 0 {
		return link.ErrNotFound
	}
	return nil
}

// MoveGroup 軟刪除舊列、寫入新列、重新指向路由
//
// 步驟在同一個交易內完成：路由永遠不會指向已刪除的資料列。
// 舊列以 FOR UPDATE 鎖住後才讀計數器，併發的 IncrementStats 不會落在讀取之後、刪除之前。
// 先軟刪除再寫入，部分唯一索引（del_flag = 0）才不會衝突。
func (p *Postgres) MoveGroup(ctx context.Context, from, to *link.ShortLink) error {
	routeID, err := p.ids.Next()
	if err != nil {
		return fmt.Errorf("generate routing id: %w", err)
	}

	return p.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT total_pv, total_uv, total_uip FROM short_link
			 WHERE id = $1 AND del_flag = 0 FOR UPDATE`,
			from.ID,
		).Scan(&to.TotalPV, &to.TotalUV, &to.TotalUIP)
		if errors.Is(err, pgx.ErrNoRows) {
			return link.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock link %s: %w", from.FullShortURL, err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE short_link SET del_flag = 1, del_time = $1, updated_at = $1
			 WHERE id = $2`,
			to.UpdatedAt, from.ID); err != nil {
			return fmt.Errorf("soft delete link %s: %w", from.FullShortURL, err)
		}

		if err := insertLink(ctx, tx, to); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM short_link_goto WHERE full_short_url = $1 AND gid = $2`,
			from.FullShortURL, from.GID); err != nil {
			return fmt.Errorf("delete routing %s: %w", from.FullShortURL, err)
		}
		return insertRouting(ctx, tx, routeID, to.GID, to.FullShortURL)
	})
}

// IncrementStats 累加統計欄位
func (p *Postgres) IncrementStats(ctx context.Context, fullShortURL string, pv, uv, uip int64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE short_link
		 SET total_pv = total_pv + $1, total_uv = total_uv + $2, total_uip = total_uip + $3
		 WHERE full_short_url = $4 AND del_flag = 0`,
		pv, uv, uip, fullShortURL)
	if err != nil {
		return fmt.Errorf("increment stats %s: %w", fullShortURL, err)
	}
	return nil
}

// ScanRouting 逐筆列出路由表中的完整短碼
func (p *Postgres) ScanRouting(ctx context.Context, fn func(fullShortURL string) error) error {
	rows, err := p.pool.Query(ctx, `SELECT full_short_url FROM short_link_goto`)
	if err != nil {
		return fmt.Errorf("scan routing: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var full string
		if err := rows.Scan(&full); err != nil {
			return fmt.Errorf("scan routing row: %w", err)
		}
		if err := fn(full); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan routing: %w", err)
	}
	return nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertLink(ctx context.Context, q querier, l *link.ShortLink) error {
	_, err := q.Exec(ctx,
		`INSERT INTO short_link (`+linkColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		l.ID, l.GID, l.Domain, l.ShortURI, l.FullShortURL, l.OriginURL, l.Description, l.Favicon,
		int16(l.CreatedType), int16(l.ValidDateType), nullTime(l.ValidDate),
		enableStatus(l.Enabled), delFlag(l.Deleted), nullTime(l.DeletedAt),
		l.TotalPV, l.TotalUV, l.TotalUIP, l.CreatedAt, l.UpdatedAt)
	return mapWriteError(err, "insert link "+l.FullShortURL)
}

func insertRouting(ctx context.Context, q querier, id int64, gid, fullShortURL string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO short_link_goto (id, gid, full_short_url) VALUES ($1, $2, $3)`,
		id, gid, fullShortURL)
	return mapWriteError(err, "insert routing "+fullShortURL)
}

// mapWriteError 唯一性衝突轉為 link.ErrDuplicateCode
func mapWriteError(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return link.ErrDuplicateCode.WithCause(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanLink(row pgx.Row) (*link.ShortLink, error) {
	var (
		l                      link.ShortLink
		createdType, validType int16
		enable, del            int16
		validDate, deletedAt   *time.Time
	)
	err := row.Scan(
		&l.ID, &l.GID, &l.Domain, &l.ShortURI, &l.FullShortURL, &l.OriginURL, &l.Description, &l.Favicon,
		&createdType, &validType, &validDate, &enable, &del, &deletedAt,
		&l.TotalPV, &l.TotalUV, &l.TotalUIP, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.CreatedType = link.CreatedType(createdType)
	l.ValidDateType = link.ExpiryPolicy(validType)
	l.Enabled = enable == 0
	l.Deleted = del != 0
	if validDate != nil {
		l.ValidDate = *validDate
	}
	if deletedAt != nil {
		l.DeletedAt = *deletedAt
	}
	return &l, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// enable_status：0 啟用、1 停用
func enableStatus(enabled bool) int16 {
	if enabled {
		return 0
	}
	return 1
}

func delFlag(deleted bool) int16 {
	if deleted {
		return 1
	}
	return 0
}
