package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordGraphMutation_LabelsByOpAndResult は操作と結果でラベル付けされることを検証する。
func TestRecordGraphMutation_LabelsByOpAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGraphMutation("follow", "ok")
	c.RecordGraphMutation("follow", "ok")
	c.RecordGraphMutation("follow", "PARTIALLY_APPLIED")

	ok := findMetric(t, reg, "socialfeed_graph_mutations_total", map[string]string{"op": "follow", "result": "ok"})
	if v := ok.GetCounter().GetValue(); v != 2 {
		t.Errorf("follow/ok = %v, want 2", v)
	}
	partial := findMetric(t, reg, "socialfeed_graph_mutations_total", map[string]string{"op": "follow", "result": "PARTIALLY_APPLIED"})
	if v := partial.GetCounter().GetValue(); v != 1 {
		t.Errorf("follow/PARTIALLY_APPLIED = %v, want 1", v)
	}
}

// TestRecordLike_IncrementsCounter はいいねカウンタが増加することを検証する。
func TestRecordLike_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLike("unlike", "NOT_LIKED")

	m := findMetric(t, reg, "socialfeed_likes_total", map[string]string{"op": "unlike", "result": "NOT_LIKED"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("likes_total = %v, want 1", v)
	}
}

// TestRecordTimelineCompose_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordTimelineCompose_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTimelineCompose(100*time.Millisecond, "ok")
	c.RecordTimelineCompose(2*time.Second, "ok")

	h := findMetric(t, reg, "socialfeed_timeline_compose_seconds", map[string]string{"result": "ok"}).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestRecordCache_RequestsAndInvalidations はキャッシュ関連のカウンタを検証する。
func TestRecordCache_RequestsAndInvalidations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCacheRequest("timeline", "hit")
	c.RecordCacheRequest("timeline", "miss")
	c.RecordCacheRequest("timeline", "hit")
	c.RecordCacheInvalidation("prefix", false)
	c.RecordCacheInvalidation("prefix", true)

	hit := findMetric(t, reg, "socialfeed_cache_requests_total", map[string]string{"namespace": "timeline", "result": "hit"})
	if v := hit.GetCounter().GetValue(); v != 2 {
		t.Errorf("timeline/hit = %v, want 2", v)
	}
	failed := findMetric(t, reg, "socialfeed_cache_invalidations_total", map[string]string{"kind": "prefix", "result": "error"})
	if v := failed.GetCounter().GetValue(); v != 1 {
		t.Errorf("prefix/error = %v, want 1", v)
	}
}

// TestRecordWorkers_Counters はワーカー関連のカウンタを検証する。
func TestRecordWorkers_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEdgesRepaired("missing_follower", 3)
	c.RecordEdgesRepaired("missing_follower", 2)
	c.RecordSessionsCleaned(7)

	repaired := findMetric(t, reg, "socialfeed_reconcile_edges_repaired_total", map[string]string{"kind": "missing_follower"})
	if v := repaired.GetCounter().GetValue(); v != 5 {
		t.Errorf("edges_repaired = %v, want 5", v)
	}
	cleaned := findMetric(t, reg, "socialfeed_sessions_cleaned_total", nil)
	if v := cleaned.GetCounter().GetValue(); v != 7 {
		t.Errorf("sessions_cleaned = %v, want 7", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(409)

	if v := findMetric(t, reg, "socialfeed_http_status_total", map[string]string{"status_code": "200"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("status 200 = %v, want 2", v)
	}
	if v := findMetric(t, reg, "socialfeed_http_status_total", map[string]string{"status_code": "409"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("status 409 = %v, want 1", v)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGraphMutation("follow", "ok")
	c.RecordLike("like", "ok")
	c.RecordTimelineCompose(10*time.Millisecond, "ok")
	c.RecordHTTPStatus(200)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{
		"socialfeed_graph_mutations_total",
		"socialfeed_likes_total",
		"socialfeed_timeline_compose_seconds",
		"socialfeed_http_status_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("response body does not contain %q", name)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = NewCollector(prometheus.NewRegistry())
}
