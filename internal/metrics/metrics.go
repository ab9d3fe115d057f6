// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、キャッシュ、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordGraphMutation(op, result string)
	RecordLike(op, result string)
	RecordTimelineCompose(duration time.Duration, result string)
	RecordCacheRequest(namespace, result string)
	RecordCacheInvalidation(kind string, failed bool)
	RecordEdgesRepaired(kind string, count int)
	RecordSessionsCleaned(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	graphMutations     *prometheus.CounterVec
	likes              *prometheus.CounterVec
	timelineCompose    *prometheus.HistogramVec
	cacheRequests      *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	edgesRepaired      *prometheus.CounterVec
	sessionsCleaned    prometheus.Counter
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		graphMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_graph_mutations_total",
			Help: "フォロー・フォロー解除の操作数（結果別）",
		}, []string{"op", "result"}),
		likes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_likes_total",
			Help: "いいね・いいね取り消しの操作数（結果別）",
		}, []string{"op", "result"}),
		timelineCompose: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "socialfeed_timeline_compose_seconds",
			Help:    "タイムライン構成のレイテンシ（秒、キャッシュヒットを含む）",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_cache_requests_total",
			Help: "集計キャッシュの参照数（hit/miss/error）",
		}, []string{"namespace", "result"}),
		cacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_cache_invalidations_total",
			Help: "集計キャッシュの無効化数",
		}, []string{"kind", "result"}),
		edgesRepaired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_reconcile_edges_repaired_total",
			Help: "reconcileワーカーが修復した片側だけのフォロー関係の数",
		}, []string{"kind"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialfeed_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.graphMutations,
		c.likes,
		c.timelineCompose,
		c.cacheRequests,
		c.cacheInvalidations,
		c.edgesRepaired,
		c.sessionsCleaned,
		c.httpStatus,
	)

	return c
}

// RecordGraphMutation はフォロー関係の操作結果を記録する。
func (c *Collector) RecordGraphMutation(op, result string) {
	c.graphMutations.WithLabelValues(op, result).Inc()
}

// RecordLike はいいね操作の結果を記録する。
func (c *Collector) RecordLike(op, result string) {
	c.likes.WithLabelValues(op, result).Inc()
}

// RecordTimelineCompose はタイムライン構成のレイテンシを記録する。
func (c *Collector) RecordTimelineCompose(duration time.Duration, result string) {
	c.timelineCompose.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordCacheRequest はキャッシュ参照の結果を記録する。
func (c *Collector) RecordCacheRequest(namespace, result string) {
	c.cacheRequests.WithLabelValues(namespace, result).Inc()
}

// RecordCacheInvalidation はキャッシュ無効化の結果を記録する。
func (c *Collector) RecordCacheInvalidation(kind string, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	c.cacheInvalidations.WithLabelValues(kind, result).Inc()
}

// RecordEdgesRepaired は修復したフォロー関係の数を記録する。
func (c *Collector) RecordEdgesRepaired(kind string, count int) {
	c.edgesRepaired.WithLabelValues(kind).Add(float64(count))
}

// RecordSessionsCleaned は削除したセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを登録したServeMuxを返す。
// APIサーバーを持たないworkerプロセスの運用エンドポイントとして使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
