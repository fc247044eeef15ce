// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する。
// YAMLファイルと環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 環境変数はYAMLより常に優先される。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	BasicAuthUsername string
	BasicAuthPassword string

	// Scan
	ScanInterval    time.Duration
	ScanTimeout     time.Duration
	ScanConcurrency int
	UserAgent       string
	TrustProxyEnv   bool

	// Fetch retry（固定遅延。指数バックオフは使用しない）
	RetryAttempts int
	RetryDelay    time.Duration

	// Dependency health
	DepsRetryInterval time.Duration

	// Site list cache
	SiteListCacheTTL time.Duration

	// MoviePilot
	MoviePilotBaseURL     string
	MoviePilotUsername    string
	MoviePilotPassword    string
	MoviePilotOTPPassword string

	// Cookie
	CookieSource           string // auto|cookiecloud|moviepilot
	CookieCloudBaseURL     string
	CookieCloudUUID        string
	CookieCloudPassword    string
	CookieCloudRefreshIntv time.Duration

	// Rate Limit
	RateLimitGeneral int

	// Logging
	LogRetentionDays int
}

// BasicAuthEnabled はBasic認証が有効かどうかを返す。
// ユーザー名とパスワードの両方が設定されている場合のみ有効。
func (c *Config) BasicAuthEnabled() bool {
	return c.BasicAuthUsername != "" && c.BasicAuthPassword != ""
}

// MoviePilotEnabled はMoviePilot連携が設定されているかどうかを返す。
func (c *Config) MoviePilotEnabled() bool {
	return c.MoviePilotBaseURL != ""
}

// CookieCloudEnabled はCookieCloud連携が設定されているかどうかを返す。
func (c *Config) CookieCloudEnabled() bool {
	return c.CookieCloudBaseURL != "" && c.CookieCloudUUID != ""
}

// 設定値の上下限。範囲外は黙ってクランプする。
const (
	minScanInterval = 30 * time.Second

	minRetryAttempts = 1
	maxRetryAttempts = 10
	maxRetryDelay    = 5 * time.Minute

	minDepsRetryInterval = time.Minute
	maxDepsRetryInterval = 24 * time.Hour

	minSiteListCacheTTL = time.Minute
	maxSiteListCacheTTL = 7 * 24 * time.Hour
)

// yamlConfig は設定ファイルの構造。
type yamlConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Web struct {
		Port string `yaml:"port"`
		Auth struct {
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		} `yaml:"basic_auth"`
	} `yaml:"web"`
	Scan struct {
		IntervalSeconds int    `yaml:"interval_seconds"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		Concurrency     int    `yaml:"concurrency"`
		UserAgent       string `yaml:"user_agent"`
		TrustEnv        *bool  `yaml:"trust_env"`
	} `yaml:"scan"`
	Retry struct {
		Attempts     int `yaml:"attempts"`
		DelaySeconds int `yaml:"delay_seconds"`
	} `yaml:"retry"`
	Connectivity struct {
		RetryIntervalSeconds int `yaml:"retry_interval_seconds"`
	} `yaml:"connectivity"`
	MoviePilot struct {
		BaseURL              string `yaml:"base_url"`
		Username             string `yaml:"username"`
		Password             string `yaml:"password"`
		OTPPassword          string `yaml:"otp_password"`
		SitesCacheTTLSeconds int    `yaml:"sites_cache_ttl_seconds"`
	} `yaml:"moviepilot"`
	Cookie struct {
		Source      string `yaml:"source"`
		CookieCloud struct {
			BaseURL                string `yaml:"base_url"`
			UUID                   string `yaml:"uuid"`
			Password               string `yaml:"password"`
			RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
		} `yaml:"cookiecloud"`
	} `yaml:"cookie"`
	Log struct {
		RetentionDays int `yaml:"retention_days"`
	} `yaml:"log"`
}

// Load はYAMLファイルと環境変数からConfigを読み込む。
// ファイル探索順: PTW_CONFIG → ./config/config.yaml → ./config.yaml（全て任意）。
// 必須値（DATABASE_URL）が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	yc, err := loadYAML()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.DatabaseURL = getEnvString("DATABASE_URL", yc.Database.URL)
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required configuration is not set: DATABASE_URL")
	}

	cfg.ServerPort = getEnvString("PTW_WEB_PORT", defaultString(yc.Web.Port, "8080"))
	cfg.BasicAuthUsername = getEnvString("PTW_WEB_AUTH_USERNAME", yc.Web.Auth.Username)
	cfg.BasicAuthPassword = getEnvString("PTW_WEB_AUTH_PASSWORD", yc.Web.Auth.Password)

	cfg.ScanInterval = getEnvDuration("PTW_SCAN_INTERVAL", secondsOr(yc.Scan.IntervalSeconds, 10*time.Minute))
	if cfg.ScanInterval < minScanInterval {
		cfg.ScanInterval = minScanInterval
	}
	cfg.ScanTimeout = getEnvDuration("PTW_SCAN_TIMEOUT", secondsOr(yc.Scan.TimeoutSeconds, 20*time.Second))
	cfg.ScanConcurrency = clampInt(getEnvInt("PTW_SCAN_CONCURRENCY", defaultInt(yc.Scan.Concurrency, 8)), 1, 64)
	cfg.UserAgent = getEnvString("PTW_USER_AGENT", yc.Scan.UserAgent)
	trustDefault := false
	if yc.Scan.TrustEnv != nil {
		trustDefault = *yc.Scan.TrustEnv
	}
	cfg.TrustProxyEnv = getEnvBool("PTW_SCAN_TRUST_ENV", trustDefault)

	cfg.RetryAttempts = clampInt(getEnvInt("PTW_RETRY_ATTEMPTS", defaultInt(yc.Retry.Attempts, 3)), minRetryAttempts, maxRetryAttempts)
	cfg.RetryDelay = clampDuration(getEnvDuration("PTW_RETRY_DELAY", secondsOr(yc.Retry.DelaySeconds, 30*time.Second)), 0, maxRetryDelay)

	cfg.DepsRetryInterval = clampDuration(
		getEnvDuration("PTW_DEPS_RETRY_INTERVAL", secondsOr(yc.Connectivity.RetryIntervalSeconds, time.Hour)),
		minDepsRetryInterval, maxDepsRetryInterval,
	)

	cfg.SiteListCacheTTL = clampDuration(
		getEnvDuration("PTW_SITES_CACHE_TTL", secondsOr(yc.MoviePilot.SitesCacheTTLSeconds, 24*time.Hour)),
		minSiteListCacheTTL, maxSiteListCacheTTL,
	)

	cfg.MoviePilotBaseURL = cleanBaseURL(getEnvString("MP_BASE_URL", yc.MoviePilot.BaseURL))
	cfg.MoviePilotUsername = getEnvString("MP_USERNAME", yc.MoviePilot.Username)
	cfg.MoviePilotPassword = getEnvString("MP_PASSWORD", yc.MoviePilot.Password)
	cfg.MoviePilotOTPPassword = getEnvString("MP_OTP_PASSWORD", yc.MoviePilot.OTPPassword)

	if cfg.MoviePilotBaseURL != "" {
		parsed, err := url.Parse(cfg.MoviePilotBaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid MP_BASE_URL: %s", cfg.MoviePilotBaseURL)
		}
	}

	cfg.CookieSource = strings.ToLower(getEnvString("COOKIE_SOURCE", defaultString(yc.Cookie.Source, "auto")))
	switch cfg.CookieSource {
	case "auto", "cookiecloud", "moviepilot":
	default:
		cfg.CookieSource = "auto"
	}
	cfg.CookieCloudBaseURL = cleanBaseURL(getEnvString("COOKIECLOUD_BASE_URL", yc.Cookie.CookieCloud.BaseURL))
	cfg.CookieCloudUUID = getEnvString("COOKIECLOUD_UUID", yc.Cookie.CookieCloud.UUID)
	cfg.CookieCloudPassword = getEnvString("COOKIECLOUD_PASSWORD", yc.Cookie.CookieCloud.Password)
	cfg.CookieCloudRefreshIntv = clampDuration(
		getEnvDuration("COOKIECLOUD_REFRESH_INTERVAL", secondsOr(yc.Cookie.CookieCloud.RefreshIntervalSeconds, 5*time.Minute)),
		30*time.Second, 24*time.Hour,
	)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogRetentionDays = getEnvInt("PTW_LOG_RETENTION_DAYS", defaultInt(yc.Log.RetentionDays, 14))

	return cfg, nil
}

// loadYAML は設定ファイル候補を順に探索して最初に見つかったものを読み込む。
// ファイルが存在しない場合はゼロ値を返す。
func loadYAML() (*yamlConfig, error) {
	candidates := []string{}
	if p := os.Getenv("PTW_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, "./config/config.yaml", "./config.yaml")

	yc := &yamlConfig{}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, yc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		return yc, nil
	}
	return yc, nil
}

// cleanBaseURL はベースURLの末尾スラッシュと既知のサフィックスを除去する。
// SwaggerのdocsページやAPIプレフィックス付きのURLを貼り付ける利用者が多いため。
func cleanBaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	for {
		original := s
		for _, suffix := range []string{"/docs", "/api/v1"} {
			s = strings.TrimRight(s, "/")
			if strings.HasSuffix(s, suffix) {
				s = s[:len(s)-len(suffix)]
				break
			}
		}
		if s == original {
			break
		}
	}
	return strings.TrimRight(s, "/")
}

func defaultString(v, defaultVal string) string {
	if v != "" {
		return v
	}
	return defaultVal
}

func defaultInt(v, defaultVal int) int {
	if v != 0 {
		return v
	}
	return defaultVal
}

func secondsOr(seconds int, defaultVal time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultVal
}

func clampInt(v, minVal, maxVal int) int {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

func clampDuration(v, minVal, maxVal time.Duration) time.Duration {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// "30s" 形式と秒数の両方を受け付ける
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return defaultVal
}
