package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, scan, config, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSiteNotFound    = "SITE_NOT_FOUND"
	ErrCodeAlreadyScanning = "ALREADY_SCANNING"
	ErrCodeInvalidDomain   = "INVALID_DOMAIN"
	ErrCodeNoSites         = "NO_SITES"
	ErrCodeScanFailed      = "SCAN_FAILED"
	ErrCodeUnknownChannel  = "UNKNOWN_CHANNEL"
	ErrCodeInvalidConfig   = "INVALID_CONFIG"
)

// NewSiteNotFoundError はサイト未検出エラーを生成する。
func NewSiteNotFoundError(domain string) *APIError {
	return &APIError{
		Code:     ErrCodeSiteNotFound,
		Message:  fmt.Sprintf("指定されたサイトが見つかりません: %s", domain),
		Category: "validation",
		Action:   "ドメインを確認するか、サイトリストを更新してください。",
	}
}

// NewAlreadyScanningError はスキャン重複実行エラーを生成する。
func NewAlreadyScanningError(domain string) *APIError {
	msg := "スキャンは既に実行中です。"
	if domain != "" {
		msg = fmt.Sprintf("このサイトのスキャンは既に実行中です: %s", domain)
	}
	return &APIError{
		Code:     ErrCodeAlreadyScanning,
		Message:  msg,
		Category: "scan",
		Action:   "実行中のスキャンの完了を待ってから再度お試しください。",
	}
}

// NewInvalidDomainError は無効なドメインエラーを生成する。
func NewInvalidDomainError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDomain,
		Message:  "ドメインが指定されていません。",
		Category: "validation",
		Action:   "スキャン対象のドメインを指定してください。",
	}
}

// NewNoSitesError は有効なサイトリストが存在しない場合のエラーを生成する。
func NewNoSitesError(providerError string) *APIError {
	msg := "スキャン対象のサイトがありません。"
	if providerError != "" {
		msg = fmt.Sprintf("スキャン対象のサイトがありません: %s", providerError)
	}
	return &APIError{
		Code:     ErrCodeNoSites,
		Message:  msg,
		Category: "scan",
		Action:   "MoviePilot接続設定を確認するか、手動サイトを登録してください。",
	}
}

// NewInvalidConfigError は設定内容の検証エラーを生成する。
func NewInvalidConfigError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfig,
		Message:  message,
		Category: "validation",
		Action:   "設定内容を修正して再度お試しください。",
	}
}

// NewUnknownChannelError は未知の通知チャンネルエラーを生成する。
func NewUnknownChannelError(channel string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownChannel,
		Message:  fmt.Sprintf("未知の通知チャンネルです: %s", channel),
		Category: "validation",
		Action:   "telegram または wecom を指定してください。",
	}
}
