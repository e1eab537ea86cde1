// Package testutils 提供整合測試用的容器環境
//
// 本套件實作了測試容器（testcontainers）的管理，包括：
//   - Redis Stack 測試容器（含 RedisBloom 模組）
//   - PostgreSQL 測試容器與資料庫遷移
//   - NATS JetStream 測試容器
//
// 所有測試容器都會在測試結束時自動清理；`go test -short` 時跳過。
package testutils

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/system-design/short-link/internal/migrations"
	"github.com/koopa0/system-design/short-link/pkg/logger"
)

const (
	redisImage    = "redis/redis-stack-server:7.2.0-v10"
	postgresImage = "postgres:16-alpine"
	natsImage     = "nats:2.10-alpine"
)

// TestEnvironment 封裝測試環境
type TestEnvironment struct {
	RedisClient    *redis.Client
	PostgresPool   *pgxpool.Pool
	RedisContainer tc.Container
	PgContainer    tc.Container
	RedisAddr      string
	PostgresDSN    string
	Logger         *slog.Logger
	ctx            context.Context
}

// SetupRedis 只啟動 Redis
func SetupRedis(t testing.TB) *TestEnvironment {
	t.Helper()
	skipShort(t)

	env := newEnv()
	env.setupRedis(t)
	t.Cleanup(env.Cleanup)
	return env
}

// SetupPostgres 只啟動 PostgreSQL 並執行遷移
func SetupPostgres(t testing.TB) *TestEnvironment {
	t.Helper()
	skipShort(t)

	env := newEnv()
	env.setupPostgreSQL(t)
	t.Cleanup(env.Cleanup)
	return env
}

// SetupTestEnvironment 設置完整的測試環境
//
// 使用範例：
//
//	func TestSomething(t *testing.T) {
//	    env := testutils.SetupTestEnvironment(t)
//	    // 使用 env.RedisClient 和 env.PostgresPool
//	}
func SetupTestEnvironment(t testing.TB) *TestEnvironment {
	t.Helper()
	skipShort(t)

	env := newEnv()
	t.Cleanup(env.Cleanup)
	env.setupRedis(t)
	env.setupPostgreSQL(t)
	return env
}

func newEnv() *TestEnvironment {
	return &TestEnvironment{
		ctx:    context.Background(),
		Logger: logger.Discard(),
	}
}

func skipShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
}

// setupRedis 啟動 Redis Stack 測試容器
func (env *TestEnvironment) setupRedis(t testing.TB) {
	t.Helper()

	ctx := env.ctx

	redisContainer, err := tcredis.Run(ctx, redisImage)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	env.RedisContainer = redisContainer

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint

	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := env.RedisClient.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
}

// setupPostgreSQL 啟動 PostgreSQL 測試容器並執行遷移
func (env *TestEnvironment) setupPostgreSQL(t testing.TB) {
	t.Helper()

	ctx := env.ctx

	pgContainer, err := tcpostgres.Run(ctx,
		postgresImage,
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	env.PgContainer = pgContainer

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.PostgresDSN = dsn

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	config.MaxConns = 10
	config.MinConns = 2

	env.PostgresPool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}

	if err := env.PostgresPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}

	env.runMigrations(t)
}

// runMigrations 執行內嵌的資料庫遷移
func (env *TestEnvironment) runMigrations(t testing.TB) {
	t.Helper()

	m, err := migrations.Open(env.PostgresDSN, env.Logger)
	if err != nil {
		t.Fatalf("failed to open migrator: %v", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
}

// Cleanup 清理測試環境
func (env *TestEnvironment) Cleanup() {
	ctx := context.Background()

	if env.RedisClient != nil {
		_ = env.RedisClient.Close()
	}
	if env.PostgresPool != nil {
		env.PostgresPool.Close()
	}
	if env.RedisContainer != nil {
		_ = env.RedisContainer.Terminate(ctx)
	}
	if env.PgContainer != nil {
		_ = env.PgContainer.Terminate(ctx)
	}
}

// FlushRedis 清空 Redis 資料（用於測試之間的清理）
func (env *TestEnvironment) FlushRedis(t testing.TB) {
	t.Helper()

	if err := env.RedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

// TruncateTables 清空 PostgreSQL 表（用於測試之間的清理）
func (env *TestEnvironment) TruncateTables(t testing.TB) {
	t.Helper()

	for _, table := range []string{"short_link", "short_link_goto"} {
		query := fmt.Sprintf("TRUNCATE TABLE %s", table)
		if _, err := env.PostgresPool.Exec(context.Background(), query); err != nil {
			t.Fatalf("failed to truncate table %s: %v", table, err)
		}
	}
}

// ResetTestData 重置所有測試資料
func (env *TestEnvironment) ResetTestData(t testing.TB) {
	t.Helper()

	if env.RedisClient != nil {
		env.FlushRedis(t)
	}
	if env.PostgresPool != nil {
		env.TruncateTables(t)
	}
}

// SetupNATS 啟動開啟 JetStream 的 NATS 容器，回傳連線 URL
func SetupNATS(t testing.TB) string {
	t.Helper()
	skipShort(t)

	ctx := context.Background()

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        natsImage,
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start nats container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		t.Fatalf("failed to get nats endpoint: %v", err)
	}
	return endpoint
}
