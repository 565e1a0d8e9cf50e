package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xrclabs/authd/internal/metrics"
	"github.com/xrclabs/authd/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HTTPMetrics       middleware.HTTPMetrics

	// ローダーAPI
	LoaderService LoaderServiceInterface
	DownloadURL   string

	// Prometheusスクレイプ（nilなら/metricsは公開しない）
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Metrics → RateLimit(General)
//
// ヘルスチェックと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}

	loaderHandler := NewLoaderHandler(deps.LoaderService, deps.DownloadURL)

	// --- レート制限の外のルート ---

	r.Get("/", Info)
	r.Get("/api", Info)
	r.Get("/health", Health)

	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- ローダーAPI ---
	// ミドルウェアスタック: RateLimit(General)、ログインのみ専用レート制限を追加
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/loader", func(r chi.Router) {
			r.Post("/initialize", loaderHandler.Initialize)

			// POST /api/loader/login - ログイン専用レート制限を追加
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", loaderHandler.Login)

			r.Post("/load", loaderHandler.Load)
			r.Post("/destruct", loaderHandler.Destruct)
		})
	})

	return r
}
