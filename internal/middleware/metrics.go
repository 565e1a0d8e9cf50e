package middleware

import "net/http"

// HTTPMetrics はHTTPレスポンスのメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type HTTPMetrics interface {
	RecordHTTPStatus(statusCode int)
}

// NewMetricsMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func NewMetricsMiddleware(m HTTPMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			m.RecordHTTPStatus(rec.statusCode)
		})
	}
}
