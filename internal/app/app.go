package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/bookwatch/internal/book"
	"github.com/hitoshi/bookwatch/internal/config"
	"github.com/hitoshi/bookwatch/internal/database"
	"github.com/hitoshi/bookwatch/internal/handler"
	"github.com/hitoshi/bookwatch/internal/logger"
	"github.com/hitoshi/bookwatch/internal/metrics"
	"github.com/hitoshi/bookwatch/internal/middleware"
	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/notify"
	"github.com/hitoshi/bookwatch/internal/repository"
	"github.com/hitoshi/bookwatch/internal/security"
	"github.com/hitoshi/bookwatch/internal/source"
	"github.com/hitoshi/bookwatch/internal/worker/check"
	"github.com/hitoshi/bookwatch/internal/worker/cleanup"
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
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildCheckScheduler は書籍チェックのパイプライン一式を組み立てる。
// SSRF防止付きHTTPクライアント、ソースアダプタファクトリ、差分検出エンジン、
// チェッカー、スケジューラをワイヤリングして返す。
func buildCheckScheduler(db *sql.DB, cfg *config.Config, reg prometheus.Registerer) *check.Scheduler {
	bookRepo := repository.NewPostgresBookRepo(db)
	siteRepo := repository.NewPostgresSiteRepo(db)
	listingRepo := repository.NewPostgresListingRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	safeClient := ssrfGuard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize)
	srcClient := source.NewClient(safeClient, slog.Default())
	srcClient.SetHostInterval(cfg.FetchHostInterval)

	newAdapter := func(site model.Site) (source.Adapter, error) {
		return source.NewAdapter(site, srcClient, sanitizer)
	}

	collector := metrics.NewCollector(reg)
	engine := notify.NewEngine(siteRepo, listingRepo, notificationRepo, slog.Default())
	checker := check.NewChecker(
		bookRepo, siteRepo, engine, newAdapter, collector,
		slog.Default(), cfg.FetchTimeout, cfg.FetchMaxConcurrent,
	)

	return check.NewScheduler(bookRepo, settingsRepo, checker, slog.Default(), cfg.CheckMaxConcurrent)
}

// rateLimiterConfigFrom は設定値（req/min単位）からレート制限設定を組み立てる。
func rateLimiterConfigFrom(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitCheck > 0 {
		rlCfg.CheckRate = rate.Limit(float64(cfg.RateLimitCheck) / 60.0)
		rlCfg.CheckBurst = cfg.RateLimitCheck
	}
	return rlCfg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// CheckSchedulerEnabledが有効な場合は定期チェックのスケジューラも
// 同一プロセス内で起動する（ワーカー分離構成ではfalseにする）。
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
	bookRepo := repository.NewPostgresBookRepo(db)
	siteRepo := repository.NewPostgresSiteRepo(db)
	listingRepo := repository.NewPostgresListingRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db)

	// 3. チェックパイプラインの構築
	reg := prometheus.NewRegistry()
	scheduler := buildCheckScheduler(db, cfg, reg)

	// 4. ドメインサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	bookService := book.NewBookService(bookRepo, siteRepo, listingRepo, ssrfGuard)
	notificationService := notify.NewNotificationService(notificationRepo)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfigFrom(cfg))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		BookService:         bookService,
		NotificationService: notificationService,
		SettingsRepo:        settingsRepo,
		Scheduler:           scheduler,
	})

	// /metrics はレート制限とCORSの対象外にするため、ルーターの外側に置く
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/", router)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()

	if cfg.CheckSchedulerEnabled {
		go scheduler.Start(schedCtx)
	} else {
		slog.Info("check scheduler disabled in API server process")
	}

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
	cancelSched()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、書籍チェックのスケジューラを起動する。
// APIは提供せず、/metricsと/healthのみの運用エンドポイントを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. チェックパイプラインの構築
	reg := prometheus.NewRegistry()
	scheduler := buildCheckScheduler(db, cfg, reg)

	// 3. 運用エンドポイントの起動
	opsMux := http.NewServeMux()
	opsMux.Handle("/metrics", metrics.Handler(reg))
	opsMux.HandleFunc("/health", handler.HealthCheck)

	opsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      opsMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("check_max_concurrent", cfg.CheckMaxConcurrent),
		slog.Int("fetch_max_concurrent", cfg.FetchMaxConcurrent),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// チェックスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
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
