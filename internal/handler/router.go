package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/ptwatch/internal/config"
	"github.com/hitoshi/ptwatch/internal/metrics"
	"github.com/hitoshi/ptwatch/internal/middleware"
	"github.com/hitoshi/ptwatch/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger
	Config *config.Config

	// ミドルウェア依存
	RateLimiter *middleware.RateLimiter

	// スキャン
	Scanner ScanServiceInterface
	Deps    DepHealthInterface

	// 設定・通知
	Store  SiteStoreInterface
	Notify NotifyServiceInterface

	// ログ
	LogRepo repository.ScanLogRepository

	// メトリクス
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → BasicAuth → RateLimit
//
// /health と /metrics はBasic認証・レート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	scanHandler := NewScanHandler(deps.Scanner, deps.Logger)
	statusHandler := NewStatusHandler(deps.Scanner, deps.Deps, deps.Config)
	configHandler := NewConfigHandler(deps.Config, deps.Scanner, deps.Store, deps.Notify)
	sitesHandler := NewSitesHandler(deps.Store)
	notifHandler := NewNotificationHandler(deps.Notify)
	logsHandler := NewLogsHandler(deps.LogRepo)

	// --- 認証不要のルート ---

	r.Get("/health", statusHandler.Health)
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BasicAuth → RateLimit
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBasicAuthMiddleware(deps.Config.BasicAuthUsername, deps.Config.BasicAuthPassword))
		r.Use(deps.RateLimiter.Middleware())

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", statusHandler.Status)

			// スキャン実行
			r.Route("/scan", func(r chi.Router) {
				r.Post("/run", scanHandler.RunAll)
				r.Post("/run/{domain}", scanHandler.RunOne)
			})

			// 設定
			r.Get("/config", configHandler.GetConfig)
			r.Put("/config", configHandler.UpdateConfig)
			r.Get("/export", configHandler.Export)

			// サイトエントリ
			r.Get("/sites", sitesHandler.GetSites)
			r.Put("/sites", sitesHandler.UpdateSites)

			// 通知
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notifHandler.GetSettings)
				r.Put("/", notifHandler.UpdateSettings)
				r.Post("/test/{channel}", notifHandler.Test)
			})

			// スキャンログ
			r.Get("/logs", logsHandler.List)
		})
	})

	return r
}
