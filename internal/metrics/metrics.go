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
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordScanCycle(ok bool)
	RecordSiteCheck(aspect string, state string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordStateTransition(domain string)
	RecordNotificationSent()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	scanCycles       *prometheus.CounterVec
	siteChecks       *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	fetchLatency     prometheus.Histogram
	stateTransitions *prometheus.CounterVec
	notifications    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scanCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptwatch_scan_cycles_total",
			Help: "スキャンサイクルの実行数（結果別）",
		}, []string{"result"}),
		siteChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptwatch_site_checks_total",
			Help: "サイト確認の合計数（側面・判定状態別）",
		}, []string{"aspect", "state"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptwatch_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ptwatch_fetch_latency_seconds",
			Help:    "サイト取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptwatch_state_transitions_total",
			Help: "通知対象となった状態遷移の合計数（ドメイン別）",
		}, []string{"domain"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptwatch_notifications_sent_total",
			Help: "送信された通知の合計数",
		}),
	}

	reg.MustRegister(
		c.scanCycles,
		c.siteChecks,
		c.httpStatus,
		c.fetchLatency,
		c.stateTransitions,
		c.notifications,
	)

	return c
}

// RecordScanCycle はスキャンサイクルの完了を記録する。
func (c *Collector) RecordScanCycle(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.scanCycles.WithLabelValues(result).Inc()
}

// RecordSiteCheck はサイト確認1件の判定結果を記録する。
// aspectは "registration" または "invites"。
func (c *Collector) RecordSiteCheck(aspect string, state string) {
	c.siteChecks.WithLabelValues(aspect, state).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はサイト取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordStateTransition は通知対象の状態遷移を記録する。
func (c *Collector) RecordStateTransition(domain string) {
	c.stateTransitions.WithLabelValues(domain).Inc()
}

// RecordNotificationSent は通知の送信を記録する。
func (c *Collector) RecordNotificationSent() {
	c.notifications.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
