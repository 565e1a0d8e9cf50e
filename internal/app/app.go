// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/xrclabs/authd/internal/auth"
	"github.com/xrclabs/authd/internal/config"
	"github.com/xrclabs/authd/internal/database"
	"github.com/xrclabs/authd/internal/handler"
	"github.com/xrclabs/authd/internal/logger"
	"github.com/xrclabs/authd/internal/metrics"
	"github.com/xrclabs/authd/internal/middleware"
	"github.com/xrclabs/authd/internal/model"
	"github.com/xrclabs/authd/internal/payload"
	"github.com/xrclabs/authd/internal/repository"
	"github.com/xrclabs/authd/internal/session"
	"github.com/xrclabs/authd/internal/worker/statsync"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandAddUser:
		return runAddUser(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	configRepo := repository.NewPostgresConfigRepo(db)

	// 3. メトリクスコレクタの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ペイロードコーデックの初期化
	codec, err := payload.NewCodec([]byte(cfg.AESKey), []byte(cfg.AESIV))
	if err != nil {
		return fmt.Errorf("failed to create payload codec: %w", err)
	}

	// 5. セッションマネージャの初期化
	sessionManager := session.NewManager(session.ManagerConfig{
		DestructGrace: cfg.SessionDestructGrace,
		MaxAge:        cfg.SessionMaxAge,
		SweepInterval: cfg.SessionSweepInterval,
		Metrics:       collector,
	})

	// 6. 認証サービスの初期化
	policy := auth.Policy{Mode: auth.PolicyMode(cfg.HWIDPolicy)}
	authService := auth.NewService(codec, accountRepo, configRepo, sessionManager, policy)
	authService.SetMetrics(collector)

	// 7. ルーターの構築
	// configのレート値はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
	rateLimiterCfg.LoginBurst = cfg.RateLimitLogin

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HTTPMetrics:       collector,

		LoaderService: authService,
		DownloadURL:   cfg.DownloadURL,

		MetricsGatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 8. バックグラウンドジョブの起動
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sessionManager.Start(ctx)

	statsJob := statsync.NewSyncJob(accountRepo, configRepo, slog.Default())
	go statsJob.Start(ctx, cfg.StatsSyncInterval)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runAddUser はアカウントを登録する管理サブコマンド。
//
//	authd adduser <discord_id> <username> [product_name]
//
// 既存アカウントの場合はプロダクトの追加のみを行い、同名プロダクトが
// 既にあればスキップする。最後に統計スナップショットを更新する。
func runAddUser(cfg *config.Config, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: authd adduser <discord_id> <username> [product_name]")
	}

	discordID := args[0]
	username := args[1]
	productName := "Client"
	if len(args) >= 3 {
		productName = args[2]
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	accountRepo := repository.NewPostgresAccountRepo(db)
	configRepo := repository.NewPostgresConfigRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	account, err := accountRepo.FindByDiscordID(ctx, discordID)
	if err != nil {
		return fmt.Errorf("failed to find account: %w", err)
	}

	switch {
	case account == nil:
		account = &model.Account{
			DiscordID: discordID,
			Username:  username,
			Products: []model.Product{
				{Name: productName, Expiry: model.DefaultExpiry},
			},
		}
		if err := accountRepo.Create(ctx, account); err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		slog.Info("account created",
			slog.String("discord_id", discordID),
			slog.String("username", username),
			slog.String("product", productName),
		)

	case hasProduct(account, productName):
		slog.Info("account already has product, skipping",
			slog.String("discord_id", discordID),
			slog.String("product", productName),
		)

	default:
		product := model.Product{Name: productName, Expiry: model.DefaultExpiry}
		if err := accountRepo.AddProduct(ctx, discordID, product); err != nil {
			return fmt.Errorf("failed to add product: %w", err)
		}
		slog.Info("product added to existing account",
			slog.String("discord_id", discordID),
			slog.String("product", productName),
		)
	}

	// 統計スナップショットを更新する
	stats, err := accountRepo.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}
	if err := configRepo.SaveStatistics(ctx, stats); err != nil {
		return fmt.Errorf("failed to save statistics: %w", err)
	}

	slog.Info("statistics updated",
		slog.Int("users", stats.Users),
		slog.Int("products", stats.Products),
	)

	return nil
}

// hasProduct はアカウントが指定名のプロダクトを既に持つかを返す。
func hasProduct(account *model.Account, name string) bool {
	for _, p := range account.Products {
		if p.Name == name {
			return true
		}
	}
	return false
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
