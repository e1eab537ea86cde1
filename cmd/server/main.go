package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/short-link/internal/allowlist"
	"github.com/koopa0/system-design/short-link/internal/cache"
	"github.com/koopa0/system-design/short-link/internal/config"
	"github.com/koopa0/system-design/short-link/internal/counter"
	"github.com/koopa0/system-design/short-link/internal/events"
	"github.com/koopa0/system-design/short-link/internal/filter"
	"github.com/koopa0/system-design/short-link/internal/handler"
	"github.com/koopa0/system-design/short-link/internal/link"
	"github.com/koopa0/system-design/short-link/internal/lock"
	"github.com/koopa0/system-design/short-link/internal/metrics"
	"github.com/koopa0/system-design/short-link/internal/migrations"
	"github.com/koopa0/system-design/short-link/internal/storage"
	"github.com/koopa0/system-design/short-link/pkg/logger"
	"github.com/koopa0/system-design/short-link/pkg/snowflake"
)

func main() {
	configPath := flag.String("config", "config.yaml", "設定檔路徑，空字串表示只用預設值與環境變數")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "short-link: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	// 資料庫遷移（lib/pq），之後的查詢走 pgxpool
	migrator, err := migrations.Open(cfg.PostgresDSN(), log)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := migrator.Close(); err != nil {
		log.Warn("close migrator failed", "error", err)
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pgPool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	ids, err := snowflake.NewGenerator(cfg.MachineID)
	if err != nil {
		return fmt.Errorf("init snowflake: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := storage.NewPostgres(pgPool, ids)

	existence, err := newFilter(ctx, cfg, redisClient, store, log)
	if err != nil {
		return err
	}

	linkCache := cache.NewRedis(redisClient)
	locker := lock.NewRedis(redisClient, 50*time.Millisecond)

	// 訪問事件：批次寫回資料庫統計欄位，另外送往 NATS（未設定時只記日誌）
	// 寫回時持有群組讀鎖，與跨群組遷移互斥
	aggregator := events.NewStatsAggregator(store, events.AggregatorOptions{
		BatchSize:     cfg.Tracker.BatchSize,
		FlushInterval: cfg.Tracker.FlushInterval,
		Locker:        locker,
		LockTTL:       cfg.Link.LockTTL,
		LockWait:      cfg.Link.LockWait,
	}, log)
	publishers := events.Fanout{aggregator}

	var natsPublisher *events.NATSPublisher
	if cfg.NATS.URL != "" {
		natsPublisher, err = events.NewNATSPublisher(cfg.NATS.URL, events.StreamConfig{
			Name:     cfg.NATS.Stream,
			Subject:  cfg.NATS.Subject,
			MaxAge:   cfg.NATS.MaxAge,
			MaxBytes: cfg.NATS.MaxBytes,
			Storage:  cfg.NATS.Storage,
		}, log)
		if err != nil {
			_ = aggregator.Close()
			return fmt.Errorf("connect nats: %w", err)
		}
		publishers = append(publishers, natsPublisher)
	} else {
		publishers = append(publishers, events.NewLogPublisher(log))
	}

	tracker := link.NewTracker(counter.NewRedis(redisClient), publishers, link.TrackerOptions{
		Location:   cfg.Location(),
		HistoryTTL: cfg.Tracker.HistoryTTL,
		QueueSize:  cfg.Tracker.QueueSize,
		Workers:    cfg.Tracker.Workers,
	}, log, m)
	// worker 不跟隨訊號取消：關機時要把佇列處理完
	tracker.Start(context.WithoutCancel(ctx))

	service := link.NewService(link.Deps{
		Store:     store,
		Cache:     linkCache,
		Filter:    existence,
		Locker:    locker,
		RWLocker:  locker,
		Generator: link.NewGenerator(existence, store, cfg.Link.CodeLength, cfg.Link.MaxAttempts, m),
		Resolver: link.NewResolver(store, linkCache, existence, locker, link.ResolverOptions{
			AbsentTTL: cfg.Resolver.AbsentTTL,
			LockTTL:   cfg.Resolver.LockTTL,
			LockWait:  cfg.Resolver.LockWait,
		}, log, m),
		Tracker:   tracker,
		Allowlist: allowlist.New(cfg.Link.Allowlist.Enabled, cfg.Link.Allowlist.Domains),
		IDs:       ids,
		Logger:    log,
		Metrics:   m,
	}, link.Options{
		Domain:      cfg.Link.Domain,
		LockTTL:     cfg.Link.LockTTL,
		LockWait:    cfg.Link.LockWait,
		MaxBatch:    cfg.Link.MaxBatch,
		DefaultIcon: cfg.Link.DefaultFavicon,
	})

	h := handler.New(service, handler.Options{
		Domain:       cfg.Link.Domain,
		NotFoundURL:  cfg.Link.NotFoundURL,
		CookieMaxAge: cfg.Tracker.CookieMaxAge,
		HealthCheck: func(ctx context.Context) error {
			return errors.Join(redisClient.Ping(ctx).Err(), pgPool.Ping(ctx))
		},
	}, log, m, reg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Server.Port, "domain", cfg.Link.Domain)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdown(srv, cfg.Server.ShutdownTimeout, tracker, aggregator, natsPublisher, log)
	log.Info("server stopped")
	return nil
}

// newFilter 依設定選擇過濾器
//
// redis 模式在啟動時 BF.RESERVE，所有實例共用同一個過濾器；
// memory 模式只適合單機部署，每次啟動都從路由表重建。
func newFilter(ctx context.Context, cfg *config.Config, client redis.UniversalClient,
	routing link.RoutingScanner, log *slog.Logger) (link.Filter, error) {
	if cfg.Filter.Mode == "memory" {
		mem := filter.NewMemory(cfg.Filter.Capacity, cfg.Filter.ErrorRate)
		start := time.Now()
		n, err := link.WarmFilter(ctx, routing, mem)
		if err != nil {
			return nil, fmt.Errorf("rebuild memory filter: %w", err)
		}
		log.Info("memory filter rebuilt", "codes", n, "duration", time.Since(start))
		return mem, nil
	}

	bloom := filter.NewRedisBloom(client, cfg.Filter.Key, cfg.Filter.ErrorRate, cfg.Filter.Capacity)
	if err := bloom.Reserve(ctx); err != nil {
		return nil, fmt.Errorf("reserve bloom filter: %w", err)
	}
	return bloom, nil
}

// shutdown 依序關閉：先停止接收請求，再清空追蹤佇列，最後沖刷統計與事件
func shutdown(srv *http.Server, timeout time.Duration, tracker *link.Tracker,
	aggregator *events.StatsAggregator, natsPublisher *events.NATSPublisher, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown server", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("failed to force close server", "error", closeErr)
		}
	}

	tracker.Shutdown()

	if err := aggregator.Close(); err != nil {
		log.Error("failed to flush stats", "error", err)
	}
	if natsPublisher != nil {
		if err := natsPublisher.Close(); err != nil {
			log.Error("failed to close nats", "error", err)
		}
	}
}
