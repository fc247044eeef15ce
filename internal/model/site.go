// Package model はドメインモデルを定義する。
package model

import "strings"

// Engine はサイトのエンジン種別（ページ構造と解析ルールを決める）を表す。
type Engine string

const (
	// EngineNexusPHP は汎用フォーラムエンジン（NexusPHP系）。
	EngineNexusPHP Engine = "nexusphp"
	// EngineCustom はカスタムパス指定のNexusPHP系バリアント。
	EngineCustom Engine = "custom"
	// EngineMTeam はJSON APIで駆動されるM-Team系エンジン。
	EngineMTeam Engine = "mteam"
)

// ParseEngine は文字列をEngineに変換する。未知の値は空文字を返す。
func ParseEngine(s string) Engine {
	switch Engine(strings.ToLower(strings.TrimSpace(s))) {
	case EngineNexusPHP:
		return EngineNexusPHP
	case EngineCustom:
		return EngineCustom
	case EngineMTeam:
		return EngineMTeam
	}
	return ""
}

// NormalizeDomain はドメインを小文字化・トリムして正規化する。
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// Site は監視対象のPTサイト1件を表す。
// MoviePilot由来のエントリと手動エントリをマージした結果として生成される。
type Site struct {
	// ID はMoviePilot側のサイトID。手動エントリの場合はnil。
	ID     *int
	Name   string
	Domain string
	URL    string

	// UserAgent はサイト固有のUA。空の場合はスキャン設定のUAを使用する。
	UserAgent string

	// Cookie はMoviePilotから取得したCookie（フォールバック用）。
	Cookie string
	// CookieOverride はローカル設定で上書きされたCookie。最優先で使用する。
	CookieOverride string

	// Authorization / APIKey はM-TeamのJSON APIエンジン用の認証情報。
	Authorization string
	APIKey        string

	IsActive bool

	// Engine は強制エンジン指定。空の場合はドメイン・HTMLから自動判定する。
	Engine Engine

	// RegistrationPath / InvitePath はエンジンが自動導出できない場合のパス指定。
	RegistrationPath string
	InvitePath       string
}

const (
	defaultRegistrationPath = "signup.php"
	defaultInvitePath       = "invite.php"
	mteamRegistrationPath   = "signup"
	mteamInvitePath         = "invite"
)

// EffectiveEngine はこのサイトに適用するエンジンを返す。
// 明示指定があればそれを、なければm-team.ccドメインはEngineMTeam、
// それ以外はEngineNexusPHPを返す。
func (s *Site) EffectiveEngine() Engine {
	if s.Engine != "" {
		return s.Engine
	}
	if strings.HasSuffix(NormalizeDomain(s.Domain), "m-team.cc") {
		return EngineMTeam
	}
	return EngineNexusPHP
}

// EffectiveRegistrationPath は登録確認に使うページパスを返す。
func (s *Site) EffectiveRegistrationPath() string {
	if p := strings.TrimSpace(s.RegistrationPath); p != "" {
		return p
	}
	if s.EffectiveEngine() == EngineMTeam {
		return mteamRegistrationPath
	}
	return defaultRegistrationPath
}

// EffectiveInvitePath は招待確認に使うページパスを返す。
func (s *Site) EffectiveInvitePath() string {
	if p := strings.TrimSpace(s.InvitePath); p != "" {
		return p
	}
	if s.EffectiveEngine() == EngineMTeam {
		return mteamInvitePath
	}
	return defaultInvitePath
}

// EffectiveCookie は招待確認に使うCookieを返す。
// ローカル上書きが最優先、次にMoviePilot由来のCookie。
func (s *Site) EffectiveCookie() string {
	if c := strings.TrimSpace(s.CookieOverride); c != "" {
		return c
	}
	return strings.TrimSpace(s.Cookie)
}
