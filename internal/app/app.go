package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/billingbridge/internal/auth"
	"github.com/hitoshi/billingbridge/internal/billing"
	"github.com/hitoshi/billingbridge/internal/config"
	"github.com/hitoshi/billingbridge/internal/database"
	"github.com/hitoshi/billingbridge/internal/entitlement"
	"github.com/hitoshi/billingbridge/internal/handler"
	"github.com/hitoshi/billingbridge/internal/logger"
	"github.com/hitoshi/billingbridge/internal/metrics"
	"github.com/hitoshi/billingbridge/internal/middleware"
	"github.com/hitoshi/billingbridge/internal/repository"
	"github.com/hitoshi/billingbridge/internal/webhook"
)

// ownerColumnProbeTimeout は起動時の所有者カラム判定のタイムアウト。
const ownerColumnProbeTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// resolveOwnerColumn は所有者カラム名を決定する。
// OWNER_COLUMNが指定されていればそれを使い、なければinformation_schemaから判定する。
func resolveOwnerColumn(ctx context.Context, cfg *config.Config, q repository.Querier) (string, error) {
	if cfg.OwnerColumn != "" {
		if !repository.ValidOwnerColumn(cfg.OwnerColumn) {
			return "", fmt.Errorf("OWNER_COLUMN=%q は %s または %s である必要があります",
				cfg.OwnerColumn, repository.OwnerColumnCurrent, repository.OwnerColumnLegacy)
		}
		return cfg.OwnerColumn, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ownerColumnProbeTimeout)
	defer cancel()

	col, err := repository.DetectOwnerColumn(ctx, q)
	if errors.Is(err, repository.ErrOwnerColumnMissing) {
		return "", fmt.Errorf("%w（migrateサブコマンドでスキーマを作成してください）", err)
	}
	return col, err
}

// newMetricsRegistry はアプリケーションメトリクスとランタイムメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildRouter はDB接続と設定から全依存関係をワイヤリングし、ルーターを構築する。
// 戻り値の停止関数でバックグラウンド処理を停止する。
func buildRouter(ctx context.Context, cfg *config.Config, db *sql.DB) (http.Handler, func(), error) {
	// 1. メトリクス
	reg, collector := newMetricsRegistry()

	// 2. リポジトリの初期化
	ownerColumn, err := resolveOwnerColumn(ctx, cfg, db)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("所有者カラムを決定しました", slog.String("owner_column", ownerColumn))

	subRepo := repository.NewPostgresSubscriptionRepo(db,
		repository.WithOwnerColumn(ownerColumn),
		repository.WithMetrics(collector),
	)

	// 3. 外部プロバイダー
	authClient := auth.NewClient(auth.ClientConfig{
		URL:            cfg.SupabaseURL,
		AnonKey:        cfg.SupabaseAnonKey,
		ServiceRoleKey: cfg.SupabaseServiceRoleKey,
	}, collector)
	resolver := auth.NewResolver(authClient, cfg.SupabaseURL)
	provider := billing.NewStripeProvider(cfg.StripeSecretKey, nil, collector)

	// 4. ドメインサービスの初期化
	origins := billing.NewOriginPolicy(cfg.BaseURL, cfg.CORSAllowedOrigins)
	entitlementService := entitlement.NewService(subRepo, collector)
	checkoutService := billing.NewCheckoutService(provider, cfg.Prices, origins, collector)
	portalService := billing.NewPortalService(provider, subRepo, origins)
	catalog := billing.NewCatalog(provider, cfg.Prices, cfg.PriceCacheTTL)
	reconciler := webhook.NewReconciler(subRepo, provider, authClient, collector)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitCheckout),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		UserResolver:   resolver,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:    rateLimiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		EntitlementService: entitlementService,

		CheckoutService: checkoutService,
		PortalService:   portalService,
		PriceLister:     catalog,

		WebhookVerifier:     webhook.NewVerifier(cfg.StripeWebhookSecret),
		WebhookApplier:      reconciler,
		WebhookMaxBodyBytes: cfg.WebhookMaxBodyBytes,
	})

	return router, rateLimiter.Stop, nil
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

	router, stopBackground, err := buildRouter(context.Background(), cfg, db)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer stopBackground()

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
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
