// Package metrics 定義服務的 Prometheus 指標
//
// 指標集中在 Metrics 結構中並註冊到傳入的 Registerer，
// 測試可以使用獨立的 registry，不會與全域 registry 衝突。
// 所有方法對 nil 接收者安全，組件不需要判斷是否啟用指標。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 解析結果標籤
const (
	OutcomeCacheHit     = "cache_hit"
	OutcomeFilterReject = "filter_reject"
	OutcomeNegativeHit  = "negative_hit"
	OutcomeStoreHit     = "store_hit"
	OutcomeStoreMiss    = "store_miss"
	OutcomeError        = "error"
)

// Metrics 服務指標
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	resolves          *prometheus.CounterVec
	storeQueries      *prometheus.CounterVec
	generateAttempts  prometheus.Histogram
	generateFailures  *prometheus.CounterVec
	trackerDegraded   prometheus.Counter
	visitEventsDrop   prometheus.Counter
	visitEventsFailed prometheus.Counter
}

// New 建立並註冊指標
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		}),
		resolves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shortlink_resolve_total",
			Help: "Short code resolutions partitioned by the stage that decided them",
		}, []string{"outcome"}),
		storeQueries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shortlink_store_queries_total",
			Help: "Backing store queries issued by the resolve path",
		}, []string{"table"}),
		generateAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shortlink_generate_attempts",
			Help:    "Candidate codes tried per successful generation",
			Buckets: []float64{1, 2, 3, 5, 10},
		}),
		generateFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shortlink_generate_failures_total",
			Help: "Short code generation failures by reason",
		}, []string{"reason"}),
		trackerDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "shortlink_tracker_degraded_total",
			Help: "First-visit checks that failed and defaulted to false",
		}),
		visitEventsDrop: f.NewCounter(prometheus.CounterOpts{
			Name: "shortlink_visit_events_dropped_total",
			Help: "Visit events dropped because the tracker queue was full",
		}),
		visitEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "shortlink_visit_events_publish_failed_total",
			Help: "Visit events that could not be published",
		}),
	}
}

// Resolve 記錄一次解析結果
func (m *Metrics) Resolve(outcome string) {
	if m == nil {
		return
	}
	m.resolves.WithLabelValues(outcome).Inc()
}

// StoreQuery 記錄一次資料庫查詢
func (m *Metrics) StoreQuery(table string) {
	if m == nil {
		return
	}
	m.storeQueries.WithLabelValues(table).Inc()
}

// Generated 記錄生成成功所用的嘗試次數
func (m *Metrics) Generated(attempts int) {
	if m == nil {
		return
	}
	m.generateAttempts.Observe(float64(attempts))
}

// GenerateFailed 記錄生成失敗
func (m *Metrics) GenerateFailed(reason string) {
	if m == nil {
		return
	}
	m.generateFailures.WithLabelValues(reason).Inc()
}

// TrackerDegraded 記錄首次訪問判定失敗
func (m *Metrics) TrackerDegraded() {
	if m == nil {
		return
	}
	m.trackerDegraded.Inc()
}

// VisitDropped 記錄佇列已滿丟棄的事件
func (m *Metrics) VisitDropped() {
	if m == nil {
		return
	}
	m.visitEventsDrop.Inc()
}

// VisitPublishFailed 記錄事件發送失敗
func (m *Metrics) VisitPublishFailed() {
	if m == nil {
		return
	}
	m.visitEventsFailed.Inc()
}

// Middleware 記錄 HTTP 指標
//
// route 使用 ServeMux 匹配到的 pattern（如 "GET /{shortCode}"），
// 避免以實際路徑當標籤造成高基數。
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(rec.status),
		}
		m.httpRequests.With(labels).Inc()
		m.httpDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler 匯出指標的 HTTP handler
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
