package model

import "time"

// ScanStatus はスキャンサイクル（全体または単一サイト）の集計結果を表す。
// KVストアに保存され、ダッシュボードAPIがそのまま返す。
type ScanStatus struct {
	OK bool `json:"ok"`

	// SiteCount は解決されたサイト総数。
	SiteCount int `json:"site_count"`
	// ScannedCount は実際に検査を実行したサイト数。
	ScannedCount int `json:"scanned_count"`
	// SkippedInFlight は他のスキャンが実行中のためスキップしたサイト数。
	SkippedInFlight int `json:"skipped_in_flight"`

	// Domain は単一サイトスキャンの場合の対象ドメイン。
	Domain string `json:"domain,omitempty"`

	// Error はOK=falseの場合のエラー内容。
	Error string `json:"error,omitempty"`
	// Warning は成功したが機能低下した場合の警告（例: サイトリストのキャッシュ利用）。
	Warning string `json:"warning,omitempty"`

	// ProviderOK / ProviderError / ProviderSource はサイトリストプロバイダの状態。
	// ProviderSourceは live|cache|state|none のいずれか。
	ProviderOK      bool   `json:"provider_ok"`
	ProviderError   string `json:"provider_error,omitempty"`
	ProviderSource  string `json:"provider_source"`
	CacheFetchedAt  string `json:"cache_fetched_at,omitempty"`
	CacheAgeSeconds *int   `json:"cache_age_seconds,omitempty"`
	CacheExpired    *bool  `json:"cache_expired,omitempty"`

	StartedAt time.Time `json:"started_at"`
	LastRunAt time.Time `json:"last_run_at"`
}

// サイトリストの取得元を表す値。
const (
	SiteListSourceLive  = "live"
	SiteListSourceCache = "cache"
	SiteListSourceState = "state"
	SiteListSourceNone  = "none"
)

// ScanLogEntry は運用ログの1件を表す。
// コアが書き込み、ダッシュボードが参照する（コア自身は読まない）。
type ScanLogEntry struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Event   string    `json:"event"`
	Domain  string    `json:"domain,omitempty"`
	Message string    `json:"message"`
}

// 運用ログのイベント種別。
const (
	ScanEventStart       = "scan_start"
	ScanEventDone        = "scan_done"
	ScanEventFailed      = "scan_failed"
	ScanEventSiteChecked = "site_checked"
	ScanEventStateChange = "state_change"
	ScanEventNotify      = "notify"
	ScanEventSiteList    = "site_list_change"
)
