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
// アクセス制御、予約ワークフロー、ワーカーから利用する。
type MetricsCollector interface {
	RecordGuardDecision(state string)
	RecordPurchaseCompleted()
	RecordPurchaseFailure(step string)
	RecordChargedNotBooked()
	RecordRefundOutcome(outcome string)
	RecordProcessorLatency(operation string, duration time.Duration)
	RecordOrphanBookings(count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardDecisions    *prometheus.CounterVec
	purchaseCompleted prometheus.Counter
	purchaseFail      *prometheus.CounterVec
	chargedNotBooked  prometheus.Counter
	refundOutcomes    *prometheus.CounterVec
	processorLatency  *prometheus.HistogramVec
	orphanBookings    prometheus.Gauge
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studydesk_guard_decisions_total",
			Help: "ルートガードの判定結果別の件数",
		}, []string{"state"}),
		purchaseCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studydesk_purchase_completed_total",
			Help: "全ステップが完了した購入の合計数",
		}),
		purchaseFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studydesk_purchase_fail_total",
			Help: "失敗したステップ別の購入失敗数",
		}, []string{"step"}),
		chargedNotBooked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studydesk_charged_not_booked_total",
			Help: "課金済みで予約が保存できなかった件数",
		}),
		refundOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studydesk_refund_outcomes_total",
			Help: "キャンセル時の返金結果別の件数",
		}, []string{"outcome"}),
		processorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studydesk_processor_latency_seconds",
			Help:    "決済プロセッサー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		orphanBookings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studydesk_orphan_bookings",
			Help: "直近の検査で見つかった支払いレコードのない予約数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studydesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.guardDecisions,
		c.purchaseCompleted,
		c.purchaseFail,
		c.chargedNotBooked,
		c.refundOutcomes,
		c.processorLatency,
		c.orphanBookings,
		c.httpStatus,
	)

	return c
}

// RecordGuardDecision はガードの最終状態を記録する。
func (c *Collector) RecordGuardDecision(state string) {
	c.guardDecisions.WithLabelValues(state).Inc()
}

// RecordPurchaseCompleted は購入完了を記録する。
func (c *Collector) RecordPurchaseCompleted() {
	c.purchaseCompleted.Inc()
}

// RecordPurchaseFailure は購入ワークフローの失敗ステップを記録する。
func (c *Collector) RecordPurchaseFailure(step string) {
	c.purchaseFail.WithLabelValues(step).Inc()
}

// RecordChargedNotBooked は課金済み未予約を記録する。
func (c *Collector) RecordChargedNotBooked() {
	c.chargedNotBooked.Inc()
}

// RecordRefundOutcome はキャンセル時の返金結果を記録する。
func (c *Collector) RecordRefundOutcome(outcome string) {
	c.refundOutcomes.WithLabelValues(outcome).Inc()
}

// RecordProcessorLatency は決済プロセッサー呼び出しのレイテンシを記録する。
func (c *Collector) RecordProcessorLatency(operation string, duration time.Duration) {
	c.processorLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordOrphanBookings は孤立予約数を記録する。
func (c *Collector) RecordOrphanBookings(count int) {
	c.orphanBookings.Set(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクス未設定のテストやワーカーで使う。
type Nop struct{}

func (Nop) RecordGuardDecision(string)                   {}
func (Nop) RecordPurchaseCompleted()                     {}
func (Nop) RecordPurchaseFailure(string)                 {}
func (Nop) RecordChargedNotBooked()                      {}
func (Nop) RecordRefundOutcome(string)                   {}
func (Nop) RecordProcessorLatency(string, time.Duration) {}
func (Nop) RecordOrphanBookings(int)                     {}
func (Nop) RecordHTTPStatus(int)                         {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
