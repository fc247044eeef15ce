package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/ptwatch/internal/config"
	"github.com/hitoshi/ptwatch/internal/model"
	"github.com/hitoshi/ptwatch/internal/notify"
	"github.com/hitoshi/ptwatch/internal/sitelist"
	"github.com/hitoshi/ptwatch/internal/worker/scan"
)

// maskedSecret は秘匿値の表示用プレースホルダ。
const maskedSecret = "********"

// SiteStoreInterface はサイトエントリの読み書きインターフェース。
type SiteStoreInterface interface {
	Entries(ctx context.Context) (map[string]sitelist.SiteEntry, error)
	SaveEntries(ctx context.Context, entries map[string]sitelist.SiteEntry) error
}

// NotifyServiceInterface は通知設定の読み書きとテスト送信のインターフェース。
type NotifyServiceInterface interface {
	LoadSettings(ctx context.Context) (notify.Settings, error)
	SaveSettings(ctx context.Context, settings notify.Settings) error
	Test(ctx context.Context, channel string) (bool, string)
}

// ConfigHandler は設定参照・更新・エクスポートのHTTPハンドラー。
type ConfigHandler struct {
	cfg     *config.Config
	scanner ScanServiceInterface
	store   SiteStoreInterface
	notify  NotifyServiceInterface
}

// NewConfigHandler はConfigHandlerを生成する。
func NewConfigHandler(cfg *config.Config, scanner ScanServiceInterface, store SiteStoreInterface, notifySvc NotifyServiceInterface) *ConfigHandler {
	return &ConfigHandler{
		cfg:     cfg,
		scanner: scanner,
		store:   store,
		notify:  notifySvc,
	}
}

// --- レスポンス型 ---

// moviePilotConfigView はMoviePilot設定の表示用構造。
type moviePilotConfigView struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	OTPSet   bool   `json:"otp_set"`
}

// cookieCloudConfigView はCookieCloud設定の表示用構造。
type cookieCloudConfigView struct {
	BaseURL                string `json:"base_url"`
	UUID                   string `json:"uuid"`
	Password               string `json:"password"`
	RefreshIntervalSeconds int    `json:"refresh_interval_seconds"`
}

// configView は実効設定の表示用構造。
// 秘匿値はmaskSecretsに応じてプレースホルダに置き換える。
type configView struct {
	ScanIntervalSeconds      int                   `json:"scan_interval_seconds"`
	ScanTimeoutSeconds       int                   `json:"scan_timeout_seconds"`
	ScanConcurrency          int                   `json:"scan_concurrency"`
	UserAgent                string                `json:"user_agent,omitempty"`
	TrustProxyEnv            bool                  `json:"trust_proxy_env"`
	RetryAttempts            int                   `json:"retry_attempts"`
	RetryDelaySeconds        int                   `json:"retry_delay_seconds"`
	DepsRetryIntervalSeconds int                   `json:"deps_retry_interval_seconds"`
	SiteListCacheTTLSeconds  int                   `json:"site_list_cache_ttl_seconds"`
	MoviePilot               moviePilotConfigView  `json:"moviepilot"`
	CookieSource             string                `json:"cookie_source"`
	CookieCloud              cookieCloudConfigView `json:"cookiecloud"`
	RateLimitGeneral         int                   `json:"rate_limit_general"`
	LogRetentionDays         int                   `json:"log_retention_days"`
	Overrides                scan.ConfigOverrides  `json:"overrides"`
}

// buildConfigView は実効設定から表示用構造を組み立てる。
func (h *ConfigHandler) buildConfigView(ctx context.Context, maskSecrets bool) configView {
	overrides, err := h.scanner.LoadOverrides(ctx)
	if err != nil {
		overrides = scan.ConfigOverrides{}
	}

	view := configView{
		ScanIntervalSeconds:      int(h.cfg.ScanInterval.Seconds()),
		ScanTimeoutSeconds:       int(h.cfg.ScanTimeout.Seconds()),
		ScanConcurrency:          h.cfg.ScanConcurrency,
		UserAgent:                h.cfg.UserAgent,
		TrustProxyEnv:            h.cfg.TrustProxyEnv,
		RetryAttempts:            h.cfg.RetryAttempts,
		RetryDelaySeconds:        int(h.cfg.RetryDelay.Seconds()),
		DepsRetryIntervalSeconds: int(h.cfg.DepsRetryInterval.Seconds()),
		SiteListCacheTTLSeconds:  int(h.cfg.SiteListCacheTTL.Seconds()),
		MoviePilot: moviePilotConfigView{
			BaseURL:  h.cfg.MoviePilotBaseURL,
			Username: h.cfg.MoviePilotUsername,
			Password: maskValue(h.cfg.MoviePilotPassword, maskSecrets),
			OTPSet:   h.cfg.MoviePilotOTPPassword != "",
		},
		CookieSource: h.cfg.CookieSource,
		CookieCloud: cookieCloudConfigView{
			BaseURL:                h.cfg.CookieCloudBaseURL,
			UUID:                   h.cfg.CookieCloudUUID,
			Password:               maskValue(h.cfg.CookieCloudPassword, maskSecrets),
			RefreshIntervalSeconds: int(h.cfg.CookieCloudRefreshIntv.Seconds()),
		},
		RateLimitGeneral: h.cfg.RateLimitGeneral,
		LogRetentionDays: h.cfg.LogRetentionDays,
		Overrides:        overrides,
	}
	return view
}

// GetConfig は実効設定を秘匿値マスク付きで返す。
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.buildConfigView(r.Context(), true))
}

// UpdateConfig は実行時設定の上書きを保存する。
// PUT /api/config
// 接続先や資格情報は環境変数/設定ファイルでのみ変更でき、ここでは
// スキャンのチューニング値だけを受け付ける。反映は次のサイクルから。
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var overrides scan.ConfigOverrides
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidConfig,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if err := h.scanner.SaveOverrides(r.Context(), overrides); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, h.buildConfigView(r.Context(), true))
}

// exportResponse はGET /api/exportのレスポンス。
type exportResponse struct {
	ExportedAt      time.Time                    `json:"exported_at"`
	IncludesSecrets bool                         `json:"includes_secrets"`
	Config          configView                   `json:"config"`
	Sites           map[string]sitelist.SiteEntry `json:"sites"`
	Notifications   notify.Settings              `json:"notifications"`
}

// Export は設定一式をエクスポートする。
// GET /api/export?secrets=true|false（デフォルトfalse: 秘匿値を落とす）
func (h *ConfigHandler) Export(w http.ResponseWriter, r *http.Request) {
	includeSecrets := r.URL.Query().Get("secrets") == "true"

	entries, err := h.store.Entries(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	settings, err := h.notify.LoadSettings(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if !includeSecrets {
		entries = redactSiteEntries(entries)
		settings = redactNotifySettings(settings)
	}

	writeJSONResponse(w, http.StatusOK, exportResponse{
		ExportedAt:      time.Now().UTC(),
		IncludesSecrets: includeSecrets,
		Config:          h.buildConfigView(r.Context(), !includeSecrets),
		Sites:           entries,
		Notifications:   settings,
	})
}

// redactSiteEntries はサイトエントリから秘匿値を取り除いたコピーを返す。
func redactSiteEntries(entries map[string]sitelist.SiteEntry) map[string]sitelist.SiteEntry {
	out := make(map[string]sitelist.SiteEntry, len(entries))
	for domain, entry := range entries {
		entry.Cookie = maskValue(entry.Cookie, true)
		entry.Authorization = maskValue(entry.Authorization, true)
		entry.APIKey = maskValue(entry.APIKey, true)
		out[domain] = entry
	}
	return out
}

// redactNotifySettings は通知設定から秘匿値を取り除いたコピーを返す。
func redactNotifySettings(settings notify.Settings) notify.Settings {
	settings.Telegram.Token = maskValue(settings.Telegram.Token, true)
	settings.WeCom.AppSecret = maskValue(settings.WeCom.AppSecret, true)
	return settings
}

// maskValue はmaskがtrueかつ値が空でない場合にプレースホルダを返す。
func maskValue(value string, mask bool) string {
	if mask && value != "" {
		return maskedSecret
	}
	return value
}
