// Package app はアプリケーションの起動と依存関係のワイヤリングを担当する。
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

	"github.com/hitoshi/ptwatch/internal/config"
	"github.com/hitoshi/ptwatch/internal/database"
	"github.com/hitoshi/ptwatch/internal/detect"
	"github.com/hitoshi/ptwatch/internal/engine"
	"github.com/hitoshi/ptwatch/internal/fetch"
	"github.com/hitoshi/ptwatch/internal/handler"
	"github.com/hitoshi/ptwatch/internal/health"
	"github.com/hitoshi/ptwatch/internal/logger"
	"github.com/hitoshi/ptwatch/internal/metrics"
	"github.com/hitoshi/ptwatch/internal/middleware"
	"github.com/hitoshi/ptwatch/internal/notify"
	"github.com/hitoshi/ptwatch/internal/provider/cookiecloud"
	"github.com/hitoshi/ptwatch/internal/provider/moviepilot"
	"github.com/hitoshi/ptwatch/internal/repository"
	"github.com/hitoshi/ptwatch/internal/security"
	"github.com/hitoshi/ptwatch/internal/sitelist"
	"github.com/hitoshi/ptwatch/internal/worker/cleanup"
	"github.com/hitoshi/ptwatch/internal/worker/scan"
)

// Init はアプリケーションの初期化を行う。
// 設定ファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 設定ファイルと環境変数から設定を読み込む
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
		port := os.Getenv("PTW_WEB_PORT")
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
	case CommandCheckOnce:
		return runCheckOnce(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// services はワイヤリング済みの主要コンポーネントをまとめた構造体。
type services struct {
	coordinator *scan.Coordinator
	scheduler   *scan.Scheduler
	cleanupJob  *cleanup.CleanupJob
	tracker     *health.Tracker
	store       *sitelist.Store
	notifyMgr   *notify.Manager
	logRepo     repository.ScanLogRepository
	registry    *prometheus.Registry
}

// wire は設定とDB接続から全コンポーネントを組み立てる。
func wire(cfg *config.Config, db *sql.DB) *services {
	// 1. リポジトリの初期化
	stateRepo := repository.NewPostgresSiteStateRepo(db)
	logRepo := repository.NewPostgresScanLogRepo(db)
	kvRepo := repository.NewPostgresKVRepo(db)

	// 2. HTTPクライアントの初期化
	client := fetch.NewClient(fetch.Options{
		Timeout:       cfg.ScanTimeout,
		UserAgent:     cfg.UserAgent,
		Attempts:      cfg.RetryAttempts,
		Delay:         cfg.RetryDelay,
		TrustProxyEnv: cfg.TrustProxyEnv,
	}, slog.Default())

	// 3. 判定エンジンの初期化
	prober := detect.NewProber(client, slog.Default())
	nexusphp := engine.NewNexusPHP(client, slog.Default())
	mteam := engine.NewMTeam(client, "", slog.Default())
	checker := detect.NewChecker(prober, nexusphp, mteam, slog.Default())

	// 4. 外部依存クライアントの初期化
	tracker := health.NewTracker(kvRepo, cfg.DepsRetryInterval, slog.Default())

	var lister scan.SiteLister
	if cfg.MoviePilotEnabled() {
		lister = moviepilot.NewClient(client,
			cfg.MoviePilotBaseURL, cfg.MoviePilotUsername,
			cfg.MoviePilotPassword, cfg.MoviePilotOTPPassword,
			slog.Default())
	}

	var ccFetcher cookiecloud.Fetcher
	if cfg.CookieCloudEnabled() {
		ccFetcher = cookiecloud.NewClient(client,
			cfg.CookieCloudBaseURL, cfg.CookieCloudUUID, cfg.CookieCloudPassword)
	}
	cookies := cookiecloud.NewManager(cfg.CookieSource, ccFetcher, cfg.CookieCloudRefreshIntv, slog.Default())

	// 5. サイトリスト・通知・メトリクスの初期化
	store := sitelist.NewStore(kvRepo)
	notifyMgr := notify.NewManager(kvRepo, client, slog.Default())
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. スキャンコーディネーターの初期化
	coordinator := scan.NewCoordinator(scan.Options{
		Config:     cfg,
		Checker:    checker,
		SiteLister: lister,
		Cookies:    cookies,
		Health:     tracker,
		Store:      store,
		StateRepo:  stateRepo,
		LogRepo:    logRepo,
		KVRepo:     kvRepo,
		Notifier:   notifyMgr,
		Sanitizer:  security.NewEvidenceSanitizer(),
		Metrics:    collector,
		Logger:     slog.Default(),
	})

	scheduler := scan.NewScheduler(coordinator, slog.Default())

	cleanupJob := cleanup.NewCleanupJob(logRepo, slog.Default())
	if cfg.LogRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.LogRetentionDays
	}

	return &services{
		coordinator: coordinator,
		scheduler:   scheduler,
		cleanupJob:  cleanupJob,
		tracker:     tracker,
		store:       store,
		notifyMgr:   notifyMgr,
		logRepo:     logRepo,
		registry:    registry,
	}
}

// runServe はWebサーバーとスキャンスケジューラを起動する。
// DB接続を開き、全依存関係をワイヤリングし、スキャンスケジューラと
// クリーンアップジョブをバックグラウンドで実行しつつHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	svc := wire(cfg, db)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigFor(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		Config:      cfg,
		RateLimiter: rateLimiter,
		Scanner:     svc.coordinator,
		Deps:        svc.tracker,
		Store:       svc.store,
		Notify:      svc.notifyMgr,
		LogRepo:     svc.logRepo,
		Gatherer:    svc.registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// スキャンスケジューラをバックグラウンドで起動
	go svc.scheduler.Start(ctx, cfg.ScanInterval)

	// クリーンアップジョブを日次でバックグラウンド実行
	go svc.cleanupJob.Start(ctx)

	go func() {
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
			slog.Bool("basic_auth", cfg.BasicAuthEnabled()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runCheckOnce は1回だけスキャンサイクルを実行して終了する。
// cron等の外部スケジューラからの利用を想定している。
func runCheckOnce(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	svc := wire(cfg, db)

	status, err := svc.coordinator.RunAll(context.Background())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	slog.Info("scan completed",
		slog.Int("site_count", status.SiteCount),
		slog.Int("scanned_count", status.ScannedCount),
		slog.String("provider_source", status.ProviderSource),
	)
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
