// Package diff はスキャン結果と前回状態の比較による通知ゲートを提供する。
// 通知は状態の「遷移」にのみ反応し、同じ状態が続く限り再送しない。
package diff

import (
	"fmt"
	"strings"

	"github.com/hitoshi/ptwatch/internal/model"
)

// NotificationTitle は状態変化通知の共通タイトル。
const NotificationTitle = "PT Invite Watcher: 状态变化"

// Changes は前回状態と今回結果を比べ、通知すべき変化の行を返す。
// 前回状態がない初回スキャンは基準線の確立であり通知しない。
// 登録は open への遷移と open→closed の遷移のみ、
// 招待は利用可能数のゼロ跨ぎ（0→正、正→0）のみを変化とみなす。
// unknown への変化はどちらの側面でも通知しない。
func Changes(prev *model.SiteState, cur *model.SiteCheckResult) []string {
	if prev == nil {
		return nil
	}

	var changes []string

	switch {
	case cur.Registration.State == model.StateOpen && prev.RegistrationState != model.StateOpen:
		changes = append(changes, "开放注册：open")
	case cur.Registration.State == model.StateClosed && prev.RegistrationState == model.StateOpen:
		changes = append(changes, "开放注册：closed")
	}

	if cur.Invites.Available != nil {
		curCount := *cur.Invites.Available
		prevCount := prev.InvitesAvailable
		if curCount > 0 && (prevCount == nil || *prevCount <= 0) {
			changes = append(changes, fmt.Sprintf("可用邀请数：%d -> %d", intOrZero(prevCount), curCount))
		} else if curCount <= 0 && prevCount != nil && *prevCount > 0 {
			changes = append(changes, fmt.Sprintf("可用邀请数：%d -> %d", *prevCount, curCount))
		}
	}

	return changes
}

// Notification は変化行から通知本文を組み立てる。
func Notification(cur *model.SiteCheckResult, changes []string) string {
	inviteDisplay := model.InviteDisplay(cur.Invites.Permanent, cur.Invites.Temporary, cur.Invites.Available)

	lines := make([]string, 0, len(changes)+4)
	lines = append(lines,
		fmt.Sprintf("站点：%s (%s)", cur.Site.Name, cur.Site.Domain),
		fmt.Sprintf("URL：%s", cur.Site.URL),
	)
	lines = append(lines, changes...)
	lines = append(lines,
		fmt.Sprintf("注册：%s (%s)", cur.Registration.State, cur.Registration.Evidence.Reason),
		fmt.Sprintf("邀请：%s %s", cur.Invites.State, inviteDisplay),
	)
	return strings.Join(lines, "\n")
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
