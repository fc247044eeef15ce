package diff

import (
	"strings"
	"testing"

	"github.com/hitoshi/ptwatch/internal/model"
)

func resultWith(regState model.State, available *int) *model.SiteCheckResult {
	return &model.SiteCheckResult{
		Site:         model.Site{Name: "Example", Domain: "example.com", URL: "https://example.com/"},
		Registration: model.AspectResult{State: regState, Evidence: model.Evidence{Reason: "signup_form_detected"}},
		Invites:      model.AspectResult{State: model.StateClosed, Available: available},
	}
}

func stateWith(regState model.State, available *int) *model.SiteState {
	return &model.SiteState{
		Domain:            "example.com",
		RegistrationState: regState,
		InvitesAvailable:  available,
	}
}

func TestChanges_FirstScanDoesNotNotify(t *testing.T) {
	if got := Changes(nil, resultWith(model.StateOpen, model.IntPtr(5))); len(got) != 0 {
		t.Errorf("初回スキャンで変化が報告されました: %v", got)
	}
}

func TestChanges_RegistrationTransitions(t *testing.T) {
	tests := []struct {
		name string
		prev model.State
		cur  model.State
		want string
	}{
		{"closedからopen", model.StateClosed, model.StateOpen, "开放注册：open"},
		{"unknownからopen", model.StateUnknown, model.StateOpen, "开放注册：open"},
		{"openからclosed", model.StateOpen, model.StateClosed, "开放注册：closed"},
		{"openのまま", model.StateOpen, model.StateOpen, ""},
		{"closedのまま", model.StateClosed, model.StateClosed, ""},
		{"unknownからclosed", model.StateUnknown, model.StateClosed, ""},
		{"openからunknown", model.StateOpen, model.StateUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Changes(stateWith(tt.prev, nil), resultWith(tt.cur, nil))
			if tt.want == "" {
				if len(got) != 0 {
					t.Errorf("変化なしのはずが報告されました: %v", got)
				}
				return
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("変化行が期待と異なります: %v, 期待 %q", got, tt.want)
			}
		})
	}
}

func TestChanges_RegistrationMonotonicSequence(t *testing.T) {
	// 前回openから open, open, closed, closed, open の列で通知は2回だけ
	states := []model.State{model.StateOpen, model.StateOpen, model.StateClosed, model.StateClosed, model.StateOpen}
	prev := stateWith(model.StateOpen, nil)

	notified := 0
	for _, s := range states {
		if len(Changes(prev, resultWith(s, nil))) > 0 {
			notified++
		}
		prev = stateWith(s, nil)
	}
	if notified != 2 {
		t.Errorf("通知回数が期待と異なります: %d", notified)
	}
}

func TestChanges_InviteZeroCrossing(t *testing.T) {
	tests := []struct {
		name string
		prev *int
		cur  *int
		want string
	}{
		{"ゼロから正", model.IntPtr(0), model.IntPtr(3), "可用邀请数：0 -> 3"},
		{"nilから正", nil, model.IntPtr(2), "可用邀请数：0 -> 2"},
		{"正からゼロ", model.IntPtr(5), model.IntPtr(0), "可用邀请数：5 -> 0"},
		{"正のまま増加", model.IntPtr(3), model.IntPtr(5), ""},
		{"正のまま減少", model.IntPtr(5), model.IntPtr(3), ""},
		{"ゼロのまま", model.IntPtr(0), model.IntPtr(0), ""},
		{"今回不明", model.IntPtr(5), nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Changes(stateWith(model.StateClosed, tt.prev), resultWith(model.StateClosed, tt.cur))
			if tt.want == "" {
				if len(got) != 0 {
					t.Errorf("変化なしのはずが報告されました: %v", got)
				}
				return
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("変化行が期待と異なります: %v, 期待 %q", got, tt.want)
			}
		})
	}
}

func TestChanges_InviteTotalsSequence(t *testing.T) {
	// 5, 3, 0, 0, 2 の列でゼロ跨ぎは2回
	totals := []int{5, 3, 0, 0, 2}
	prev := stateWith(model.StateClosed, nil)

	notified := 0
	for _, n := range totals {
		cur := resultWith(model.StateClosed, model.IntPtr(n))
		if len(Changes(prev, cur)) > 0 {
			notified++
		}
		prev = stateWith(model.StateClosed, model.IntPtr(n))
	}
	// 初回 nil→5 も正への遷移として数える
	if notified != 3 {
		t.Errorf("通知回数が期待と異なります: %d", notified)
	}
}

func TestNotification(t *testing.T) {
	cur := resultWith(model.StateOpen, nil)
	cur.Invites = model.AspectResult{
		State:     model.StateOpen,
		Permanent: model.IntPtr(3),
		Temporary: model.IntPtr(1),
		Available: model.IntPtr(4),
		Evidence:  model.Evidence{Reason: "invite_quota_home_header"},
	}

	text := Notification(cur, []string{"开放注册：open"})
	lines := strings.Split(text, "\n")
	if len(lines) != 5 {
		t.Fatalf("行数が期待と異なります: %v", lines)
	}
	if lines[0] != "站点：Example (example.com)" {
		t.Errorf("站点行が期待と異なります: %q", lines[0])
	}
	if lines[1] != "URL：https://example.com/" {
		t.Errorf("URL行が期待と異なります: %q", lines[1])
	}
	if lines[2] != "开放注册：open" {
		t.Errorf("変化行が期待と異なります: %q", lines[2])
	}
	if lines[3] != "注册：open (signup_form_detected)" {
		t.Errorf("注册行が期待と異なります: %q", lines[3])
	}
	if lines[4] != "邀请：open 3(1)" {
		t.Errorf("邀请行が期待と異なります: %q", lines[4])
	}
}
