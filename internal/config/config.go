// Package config 載入短鏈接服務的設定
//
// 優先順序：預設值 < YAML 檔案 < 環境變數。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	NATS struct {
		URL      string        `yaml:"url"` // 空字串表示不發送到 NATS
		Stream   string        `yaml:"stream"`
		Subject  string        `yaml:"subject"`
		MaxAge   time.Duration `yaml:"max_age"`
		MaxBytes int64         `yaml:"max_bytes"`
		Storage  string        `yaml:"storage"` // file | memory
	} `yaml:"nats"`

	Link struct {
		Domain         string        `yaml:"domain"`
		CodeLength     int           `yaml:"code_length"`
		MaxAttempts    int           `yaml:"max_attempts"`
		NotFoundURL    string        `yaml:"not_found_url"`
		DefaultFavicon string        `yaml:"default_favicon"`
		MaxBatch       int           `yaml:"max_batch"`
		LockTTL        time.Duration `yaml:"lock_ttl"`
		LockWait       time.Duration `yaml:"lock_wait"`
		Allowlist      struct {
			Enabled bool     `yaml:"enabled"`
			Domains []string `yaml:"domains"`
		} `yaml:"allowlist"`
	} `yaml:"link"`

	Resolver struct {
		AbsentTTL time.Duration `yaml:"absent_ttl"`
		LockTTL   time.Duration `yaml:"lock_ttl"`
		LockWait  time.Duration `yaml:"lock_wait"`
	} `yaml:"resolver"`

	Tracker struct {
		Timezone      string        `yaml:"timezone"`
		HistoryTTL    time.Duration `yaml:"history_ttl"`
		QueueSize     int           `yaml:"queue_size"`
		Workers       int           `yaml:"workers"`
		CookieMaxAge  time.Duration `yaml:"cookie_max_age"`
		BatchSize     int           `yaml:"batch_size"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"tracker"`

	Filter struct {
		Mode      string  `yaml:"mode"` // redis | memory
		Key       string  `yaml:"key"`
		ErrorRate float64 `yaml:"error_rate"`
		Capacity  int64   `yaml:"capacity"`
	} `yaml:"filter"`

	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		AddSource bool   `yaml:"add_source"`
	} `yaml:"log"`

	// MachineID snowflake 節點編號，多實例部署時必須不同
	MachineID int64 `yaml:"machine_id"`
}

// Default 預設配置
func Default() *Config {
	c := &Config{}

	c.Server.Port = 8080
	c.Server.ReadTimeout = 5 * time.Second
	c.Server.WriteTimeout = 10 * time.Second
	c.Server.ShutdownTimeout = 30 * time.Second

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 50
	c.Redis.MinIdleConns = 10
	c.Redis.MaxRetries = 3
	c.Redis.ReadTimeout = 3 * time.Second
	c.Redis.WriteTimeout = 3 * time.Second

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "postgres"
	c.Postgres.Password = "postgres"
	c.Postgres.DBName = "shortlink"
	c.Postgres.MaxConns = 20
	c.Postgres.MinConns = 2

	c.NATS.Stream = "SHORTLINK_VISITS"
	c.NATS.Subject = "shortlink.visit"
	c.NATS.MaxAge = 7 * 24 * time.Hour
	c.NATS.Storage = "file"

	c.Link.Domain = "localhost:8080"
	c.Link.CodeLength = 6
	c.Link.MaxAttempts = 10
	c.Link.NotFoundURL = "/page/notfound"
	c.Link.MaxBatch = 100
	c.Link.LockTTL = 10 * time.Second
	c.Link.LockWait = 3 * time.Second

	c.Resolver.AbsentTTL = 30 * time.Minute
	c.Resolver.LockTTL = 10 * time.Second
	c.Resolver.LockWait = 3 * time.Second

	c.Tracker.Timezone = "UTC"
	c.Tracker.QueueSize = 4096
	c.Tracker.Workers = 4
	c.Tracker.CookieMaxAge = 30 * 24 * time.Hour
	c.Tracker.BatchSize = 100
	c.Tracker.FlushInterval = time.Second

	c.Filter.Mode = "redis"
	c.Filter.Key = "shortlink:filter"
	c.Filter.ErrorRate = 0.001
	c.Filter.Capacity = 100_000_000

	c.Log.Level = "info"
	c.Log.Format = "json"

	c.MachineID = 1
	return c
}

// Load 讀取 YAML 覆蓋預設值，再套用環境變數並驗證
//
// path 為空字串時只使用預設值與環境變數。
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		// #nosec G304 - path 來自命令列參數，非使用者輸入
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv 環境變數覆蓋（容器部署常用）
func (c *Config) applyEnv() error {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Link.Domain == "" {
		errs = append(errs, errors.New("link.domain is required"))
	}
	if c.Link.CodeLength <= 0 || c.Link.CodeLength > 10 {
		errs = append(errs, fmt.Errorf("link.code_length must be 1-10: %d", c.Link.CodeLength))
	}
	if c.Link.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("link.max_attempts must be positive: %d", c.Link.MaxAttempts))
	}
	if _, err := time.LoadLocation(c.Tracker.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("tracker.timezone: %w", err))
	}
	if c.Filter.Mode != "redis" && c.Filter.Mode != "memory" {
		errs = append(errs, fmt.Errorf("filter.mode must be redis or memory: %q", c.Filter.Mode))
	}
	if c.Filter.ErrorRate <= 0 || c.Filter.ErrorRate >= 1 {
		errs = append(errs, fmt.Errorf("filter.error_rate must be in (0, 1): %v", c.Filter.ErrorRate))
	}
	if c.MachineID < 0 || c.MachineID > 1023 {
		errs = append(errs, fmt.Errorf("machine_id must be 0-1023: %d", c.MachineID))
	}
	return errors.Join(errs...)
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
	)
}

// Location 「今日」的時區
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Tracker.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
