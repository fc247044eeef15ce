package model

import (
	"fmt"
	"time"
)

// State は登録・招待の開放状態を表す3値。
// 判定材料が不十分・曖昧な場合は必ずStateUnknownとする（推測しない）。
type State string

const (
	// StateOpen は開放状態。裏付けとなる根拠（ステータスコードやマッチ文字列）を伴う。
	StateOpen State = "open"
	// StateClosed は閉鎖状態。
	StateClosed State = "closed"
	// StateUnknown は判定不能。設計上の正常な結果でありエラーではない。
	StateUnknown State = "unknown"
)

// ReachState はサイト到達性の3値。
type ReachState string

const (
	// ReachUp はサイトに到達できる状態。
	ReachUp ReachState = "up"
	// ReachDown はサイトに到達できない状態。
	ReachDown ReachState = "down"
	// ReachUnknown は到達性を判定できない状態。
	ReachUnknown ReachState = "unknown"
)

// Evidence は判定の根拠を表す。
// HTTPStatusが0の場合はステータスコードなし（接続エラー等）を意味する。
type Evidence struct {
	URL        string `json:"url"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Reason     string `json:"reason"`
	Matched    string `json:"matched,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// AspectResult は登録または招待の単一側面の判定結果を表す。
// 招待の場合はAvailable（合計）とPermanent/Temporary（永久/限时の内訳）を持つ。
type AspectResult struct {
	State    State    `json:"state"`
	Evidence Evidence `json:"evidence"`

	// Available は利用可能な招待数の合計（Permanent + Temporary）。不明の場合はnil。
	Available *int `json:"available,omitempty"`
	// Permanent は永久招待数。不明の場合はnil。
	Permanent *int `json:"permanent,omitempty"`
	// Temporary は期間限定招待数。不明の場合はnil。
	Temporary *int `json:"temporary,omitempty"`
}

// ReachabilityResult は到達性確認の結果を表す。
type ReachabilityResult struct {
	State    ReachState `json:"state"`
	Evidence Evidence   `json:"evidence"`
}

// SiteCheckResult は1サイト1スキャンの最終結果を表す。
type SiteCheckResult struct {
	Site         Site               `json:"site"`
	Engine       Engine             `json:"engine"`
	Reachability ReachabilityResult `json:"reachability"`
	Registration AspectResult       `json:"registration"`
	Invites      AspectResult       `json:"invites"`
	CheckedAt    time.Time          `json:"checked_at"`
}

// SiteState はサイトごとの最終既知状態（永続化行）を表す。
// LastChangedAtは通知対象の遷移が起きたときのみ更新される。
type SiteState struct {
	Domain            string
	Name              string
	URL               string
	Engine            Engine
	RegistrationState State
	InvitesState      State
	InvitesAvailable  *int
	InvitesPermanent  *int
	InvitesTemporary  *int
	LastCheckedAt     time.Time
	LastChangedAt     *time.Time
	LastEvidence      string
}

// InviteDisplay は招待数を「永久(限时)」形式で整形する。
// 内訳が不明で合計のみ既知の場合は「合計(0)」、すべて不明の場合は「-」を返す。
func InviteDisplay(permanent, temporary, available *int) string {
	if permanent != nil {
		temp := 0
		if temporary != nil {
			temp = *temporary
		}
		return fmt.Sprintf("%d(%d)", *permanent, temp)
	}
	if available != nil {
		return fmt.Sprintf("%d(0)", *available)
	}
	return "-"
}

// InviteTotal は招待数の合計を返す。内訳・合計とも不明の場合はnilを返す。
func InviteTotal(permanent, temporary, available *int) *int {
	if available != nil {
		return available
	}
	if permanent == nil {
		return nil
	}
	total := *permanent
	if temporary != nil {
		total += *temporary
	}
	return &total
}

// IntPtr はintのポインタを返すヘルパー。
func IntPtr(v int) *int { return &v }
