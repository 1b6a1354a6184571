// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordCheckSuccess()
	RecordCheckFailure()
	RecordSourceFailure(source, reason string)
	RecordFetchLatency(source string, duration time.Duration)
	RecordListingsFound(source string, count int)
	RecordNotificationsCreated(count int)
}

// 失敗理由のラベル値。
const (
	ReasonUnavailable = "unavailable"
	ReasonParse       = "parse"
	ReasonReconcile   = "reconcile"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkSuccess         prometheus.Counter
	checkFail            prometheus.Counter
	sourceFail           *prometheus.CounterVec
	fetchLatency         *prometheus.HistogramVec
	listingsFound        *prometheus.CounterVec
	notificationsCreated prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookwatch_check_success_total",
			Help: "書籍チェックサイクル成功の合計数",
		}),
		checkFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookwatch_check_fail_total",
			Help: "書籍チェックサイクル失敗の合計数",
		}),
		sourceFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookwatch_source_fail_total",
			Help: "ソース別・理由別のフェッチ失敗数",
		}, []string{"source", "reason"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookwatch_fetch_latency_seconds",
			Help:    "ソースフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		listingsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookwatch_listings_found_total",
			Help: "ソース別の新規リスティング発見数",
		}, []string{"source"}),
		notificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookwatch_notifications_created_total",
			Help: "作成された通知の合計数",
		}),
	}

	reg.MustRegister(
		c.checkSuccess,
		c.checkFail,
		c.sourceFail,
		c.fetchLatency,
		c.listingsFound,
		c.notificationsCreated,
	)

	return c
}

// RecordCheckSuccess はチェックサイクル成功を記録する。
func (c *Collector) RecordCheckSuccess() {
	c.checkSuccess.Inc()
}

// RecordCheckFailure はチェックサイクル失敗を記録する。
func (c *Collector) RecordCheckFailure() {
	c.checkFail.Inc()
}

// RecordSourceFailure はソースのフェッチ失敗を理由付きで記録する。
func (c *Collector) RecordSourceFailure(source, reason string) {
	c.sourceFail.WithLabelValues(source, reason).Inc()
}

// RecordFetchLatency はソースフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(source string, duration time.Duration) {
	c.fetchLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordListingsFound は新規リスティングの発見数を記録する。
func (c *Collector) RecordListingsFound(source string, count int) {
	c.listingsFound.WithLabelValues(source).Add(float64(count))
}

// RecordNotificationsCreated は作成された通知数を記録する。
func (c *Collector) RecordNotificationsCreated(count int) {
	c.notificationsCreated.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// /metricsエンドポイントにマウントして使用する。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
