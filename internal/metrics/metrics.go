// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	OutcomeOK       = "ok"
	OutcomeIgnored  = "ignored"
	OutcomeSkipped  = "skipped"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リポジトリ・サービス・ハンドラー層から利用する。
type MetricsCollector interface {
	RecordWebhookEvent(eventType, outcome string)
	RecordCheckoutSession(plan, billing, outcome string)
	RecordEntitlementLookup(outcome string)
	RecordProviderLatency(provider, operation string, duration time.Duration)
	RecordOwnerColumnFallback(operation string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhookEvents      *prometheus.CounterVec
	checkoutSessions   *prometheus.CounterVec
	entitlementLookups *prometheus.CounterVec
	providerLatency    *prometheus.HistogramVec
	ownerFallbacks     *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "イベント種別・処理結果別のWebhook受信数",
		}, []string{"type", "outcome"}),
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_checkout_sessions_total",
			Help: "プラン・課金間隔・結果別のチェックアウトセッション作成数",
		}, []string{"plan", "billing", "outcome"}),
		entitlementLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_entitlement_lookups_total",
			Help: "結果別の権利参照数",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_provider_latency_seconds",
			Help:    "外部プロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		ownerFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_owner_column_fallback_total",
			Help: "旧所有者カラムへのフォールバック発生数",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.webhookEvents,
		c.checkoutSessions,
		c.entitlementLookups,
		c.providerLatency,
		c.ownerFallbacks,
	)

	return c
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordCheckoutSession はチェックアウトセッション作成の結果を記録する。
func (c *Collector) RecordCheckoutSession(plan, billing, outcome string) {
	c.checkoutSessions.WithLabelValues(plan, billing, outcome).Inc()
}

// RecordEntitlementLookup は権利参照の結果を記録する。
func (c *Collector) RecordEntitlementLookup(outcome string) {
	c.entitlementLookups.WithLabelValues(outcome).Inc()
}

// RecordProviderLatency は外部プロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(provider, operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordOwnerColumnFallback は旧所有者カラムへのフォールバックを記録する。
func (c *Collector) RecordOwnerColumnFallback(operation string) {
	c.ownerFallbacks.WithLabelValues(operation).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordWebhookEvent(string, string)                   {}
func (Nop) RecordCheckoutSession(string, string, string)        {}
func (Nop) RecordEntitlementLookup(string)                      {}
func (Nop) RecordProviderLatency(string, string, time.Duration) {}
func (Nop) RecordOwnerColumnFallback(string)                    {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
