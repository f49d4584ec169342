// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// クロールワーカーと通知ファンアウトから利用する。
type MetricsCollector interface {
	RecordPassCompleted(result string)
	RecordProductsAttempted(count int)
	RecordExtractFailure()
	RecordPersistFailure()
	RecordPriceChange()
	RecordNotificationSent()
	RecordNotificationFailure()
	RecordPassDuration(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	passTotal         *prometheus.CounterVec
	productsAttempted prometheus.Counter
	extractFail       prometheus.Counter
	persistFail       prometheus.Counter
	priceChanges      prometheus.Counter
	notificationsSent prometheus.Counter
	notifyFail        prometheus.Counter
	passDuration      prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		passTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatch_pass_total",
			Help: "クロールパス実行の合計数（結果別）",
		}, []string{"result"}),
		productsAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_products_attempted_total",
			Help: "抽出を試行した商品の合計数",
		}),
		extractFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_extract_fail_total",
			Help: "価格抽出失敗の合計数",
		}),
		persistFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_persist_fail_total",
			Help: "価格観測の永続化失敗の合計数",
		}),
		priceChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_price_changes_total",
			Help: "検出した価格変化の合計数",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_notifications_sent_total",
			Help: "送信した通知の合計数",
		}),
		notifyFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_notify_fail_total",
			Help: "通知配信失敗の合計数",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricewatch_pass_duration_seconds",
			Help:    "クロールパスの所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	reg.MustRegister(
		c.passTotal,
		c.productsAttempted,
		c.extractFail,
		c.persistFail,
		c.priceChanges,
		c.notificationsSent,
		c.notifyFail,
		c.passDuration,
	)

	return c
}

// RecordPassCompleted はパスの完了を結果別（completed/aborted/skipped）に記録する。
func (c *Collector) RecordPassCompleted(result string) {
	c.passTotal.WithLabelValues(result).Inc()
}

// RecordProductsAttempted は抽出を試行した商品数を記録する。
func (c *Collector) RecordProductsAttempted(count int) {
	c.productsAttempted.Add(float64(count))
}

// RecordExtractFailure は価格抽出の失敗を記録する。
func (c *Collector) RecordExtractFailure() {
	c.extractFail.Inc()
}

// RecordPersistFailure は価格観測の永続化失敗を記録する。
func (c *Collector) RecordPersistFailure() {
	c.persistFail.Inc()
}

// RecordPriceChange は価格変化の検出を記録する。
func (c *Collector) RecordPriceChange() {
	c.priceChanges.Inc()
}

// RecordNotificationSent は通知の送信を記録する。
func (c *Collector) RecordNotificationSent() {
	c.notificationsSent.Inc()
}

// RecordNotificationFailure は通知配信の失敗を記録する。
func (c *Collector) RecordNotificationFailure() {
	c.notifyFail.Inc()
}

// RecordPassDuration はクロールパスの所要時間を記録する。
func (c *Collector) RecordPassDuration(duration time.Duration) {
	c.passDuration.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
