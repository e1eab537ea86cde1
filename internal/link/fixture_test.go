package link_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/short-link/internal/cache"
	"github.com/koopa0/system-design/short-link/internal/counter"
	"github.com/koopa0/system-design/short-link/internal/events"
	"github.com/koopa0/system-design/short-link/internal/filter"
	"github.com/koopa0/system-design/short-link/internal/link"
	"github.com/koopa0/system-design/short-link/internal/lock"
	"github.com/koopa0/system-design/short-link/internal/storage"
	"github.com/koopa0/system-design/short-link/pkg/logger"
	"github.com/koopa0/system-design/short-link/pkg/snowflake"
)

const testDomain = "s.example"

// clock 可手動推進的時鐘
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingFilter 記錄查詢次數，present 為 true 時永遠回報存在
type countingFilter struct {
	link.Filter
	present bool
	checks  atomic.Int32
}

func (f *countingFilter) MightContain(ctx context.Context, item string) (bool, error) {
	f.checks.Add(1)
	if f.present {
		return true, nil
	}
	return f.Filter.MightContain(ctx, item)
}

type fixture struct {
	store     *storage.Memory
	cache     *cache.Memory
	filter    *filter.Memory
	locker    *lock.Local
	counter   *counter.Memory
	recorder  *events.Recorder
	ids       *snowflake.Generator
	generator *link.Generator
	resolver  *link.Resolver
	tracker   *link.Tracker
	service   *link.Service
	clock     *clock
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	resolver   link.ResolverOptions
	allowlist  link.Allowlist
	wrapStore  func(link.Store) link.Store
	wrapFilter func(link.Filter) link.Filter
}

func withResolverOptions(o link.ResolverOptions) fixtureOption {
	return func(c *fixtureConfig) { c.resolver = o }
}

func withAllowlist(a link.Allowlist) fixtureOption {
	return func(c *fixtureConfig) { c.allowlist = a }
}

// withStore 包裝 Service 使用的 Store
func withStore(wrap func(link.Store) link.Store) fixtureOption {
	return func(c *fixtureConfig) { c.wrapStore = wrap }
}

// withFilter 包裝 Service 使用的 Filter
func withFilter(wrap func(link.Filter) link.Filter) fixtureOption {
	return func(c *fixtureConfig) { c.wrapFilter = wrap }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	var cfg fixtureConfig
	for _, o := range opts {
		o(&cfg)
	}

	ids, err := snowflake.NewGenerator(1)
	require.NoError(t, err)

	f := &fixture{
		store:    storage.NewMemory(),
		cache:    cache.NewMemory(),
		filter:   filter.NewMemory(100000, 0.001),
		locker:   lock.NewLocal(),
		counter:  counter.NewMemory(),
		recorder: &events.Recorder{},
		ids:      ids,
		clock:    newClock(time.Now()),
	}
	f.cache.SetClock(f.clock.Now)
	f.counter.SetClock(f.clock.Now)

	log := logger.Discard()
	f.generator = link.NewGenerator(f.filter, f.store, 6, link.DefaultMaxAttempts, nil)
	f.resolver = link.NewResolver(f.store, f.cache, f.filter, f.locker, cfg.resolver, log, nil)
	link.SetResolverClock(f.resolver, f.clock.Now)
	f.tracker = link.NewTracker(f.counter, f.recorder, link.TrackerOptions{QueueSize: 64, Workers: 1}, log, nil)
	link.SetTrackerClock(f.tracker, f.clock.Now)

	var (
		svcStore  link.Store  = f.store
		svcFilter link.Filter = f.filter
	)
	if cfg.wrapStore != nil {
		svcStore = cfg.wrapStore(svcStore)
	}
	if cfg.wrapFilter != nil {
		svcFilter = cfg.wrapFilter(svcFilter)
	}

	f.service = link.NewService(link.Deps{
		Store:     svcStore,
		Cache:     f.cache,
		Filter:    svcFilter,
		Locker:    f.locker,
		RWLocker:  f.locker,
		Generator: f.generator,
		Resolver:  f.resolver,
		Tracker:   f.tracker,
		Allowlist: cfg.allowlist,
		IDs:       ids,
		Logger:    log,
	}, link.Options{
		Domain:      testDomain,
		LockTTL:     time.Second,
		LockWait:    200 * time.Millisecond,
		MaxBatch:    10,
		DefaultIcon: "https://s.example/favicon.ico",
	})
	link.SetServiceClock(f.service, f.clock.Now)

	return f
}

// seed 直接寫入資料庫與過濾器，不經過 Service
func (f *fixture) seed(t *testing.T, gid, code, originURL string, mutate ...func(*link.ShortLink)) *link.ShortLink {
	t.Helper()

	id, err := f.ids.Next()
	require.NoError(t, err)
	now := f.clock.Now()
	l := &link.ShortLink{
		ID:           id,
		GID:          gid,
		Domain:       testDomain,
		ShortURI:     code,
		FullShortURL: link.FullShortURL(testDomain, code),
		OriginURL:    originURL,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, m := range mutate {
		m(l)
	}
	require.NoError(t, f.store.CreateLink(context.Background(), l))
	require.NoError(t, f.filter.Add(context.Background(), l.FullShortURL))
	return l
}
