package gateway

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsNamespace はゲートウェイのメトリクス名前空間。
const metricsNamespace = "bffgateway"

// metrics はゲートウェイのPrometheusメトリクス。
type metrics struct {
	// gateDecisions はルートゲートの判定結果の件数。
	gateDecisions *prometheus.CounterVec
	// sessionChecks はセッション確認エンドポイントの結果の件数。
	sessionChecks *prometheus.CounterVec
	// proxyRequests は上流APIから応答を得たプロキシリクエストの件数。
	proxyRequests *prometheus.CounterVec
	// proxyFailures は上流APIとの通信に失敗したプロキシリクエストの件数。
	proxyFailures *prometheus.CounterVec
	// upstreamDuration は上流API呼び出しの所要時間。
	upstreamDuration *prometheus.HistogramVec
}

// newMetrics はメトリクスを生成し、指定されたレジストリに登録する。
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gate_decisions_total",
			Help:      "Total number of route gate decisions",
		}, []string{"decision"}),

		sessionChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_checks_total",
			Help:      "Total number of session introspection results",
		}, []string{"result"}),

		proxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of proxied requests answered by the upstream",
		}, []string{"method", "status"}),

		proxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "proxy_failures_total",
			Help:      "Total number of proxied requests that failed to reach the upstream",
		}, []string{"reason"}),

		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream round-trip duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// statusClass はステータスコードを "2xx" 形式のラベルに変換する。
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
