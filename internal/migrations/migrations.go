// Package migrations 管理短鏈接資料庫結構
//
// SQL 檔案以 embed 打包進二進位檔，部署時不需要額外複製 migrations 目錄。
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // database/sql 驅動
)

//go:embed sql/*.sql
var sqlFS embed.FS

// Migrator 管理資料庫遷移
type Migrator struct {
	db      *sql.DB
	migrate *migrate.Migrate
	logger  *slog.Logger
}

// Open 連線資料庫並建立遷移管理器
func Open(dsn string, logger *slog.Logger) (*Migrator, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migrate driver: %w", err)
	}

	source, err := iofs.New(sqlFS, "sql")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migrate source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return &Migrator{db: db, migrate: m, logger: logger}, nil
}

// Up 執行所有待處理的遷移
func (m *Migrator) Up() error {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}

	if dirty {
		m.logger.Warn("database is dirty, forcing previous version", "version", version)
		target := int(version) - 1
		if target == 0 {
			target = -1 // 沒有更早的版本，回到空資料庫
		}
		if err := m.migrate.Force(target); err != nil {
			return fmt.Errorf("force dirty version: %w", err)
		}
	}

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("database schema up to date", "version", version)
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}

	newVersion, _, _ := m.migrate.Version()
	m.logger.Info("database migrated", "version", newVersion)
	return nil
}

// Down 回滾所有遷移
func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version 當前版本
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Close 關閉遷移管理器與連線
func (m *Migrator) Close() error {
	sourceErr, driverErr := m.migrate.Close()
	dbErr := m.db.Close()
	if sourceErr != nil {
		return fmt.Errorf("close migrate source: %w", sourceErr)
	}
	if driverErr != nil {
		return fmt.Errorf("close migrate driver: %w", driverErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close database: %w", dbErr)
	}
	return nil
}
