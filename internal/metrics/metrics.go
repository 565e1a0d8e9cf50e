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
// 認証サービスやセッション管理から利用する。
type MetricsCollector interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordLoginLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	SetActiveSessions(count int)
	RecordSessionsReaped(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess   prometheus.Counter
	loginFail      *prometheus.CounterVec
	loginLatency   prometheus.Histogram
	httpStatus     *prometheus.CounterVec
	activeSessions prometheus.Gauge
	sessionsReaped prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_login_fail_total",
			Help: "失敗理由別のログイン失敗数",
		}, []string{"reason"}),
		loginLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authd_login_latency_seconds",
			Help:    "ログイン処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authd_active_sessions",
			Help: "現在アクティブなセッション数",
		}),
		sessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_sessions_reaped_total",
			Help: "期限切れにより削除されたセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.loginLatency,
		c.httpStatus,
		c.activeSessions,
		c.sessionsReaped,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を失敗理由とともに記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFail.WithLabelValues(reason).Inc()
}

// RecordLoginLatency はログイン処理のレイテンシを記録する。
func (c *Collector) RecordLoginLatency(duration time.Duration) {
	c.loginLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetActiveSessions は現在のアクティブセッション数を記録する。
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// RecordSessionsReaped は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsReaped(count int) {
	c.sessionsReaped.Add(float64(count))
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
