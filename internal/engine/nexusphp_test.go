package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/ptwatch/internal/fetch"
	"github.com/hitoshi/ptwatch/internal/model"
)

func newTestEngine() *NexusPHP {
	client := fetch.NewClient(fetch.Options{
		Timeout:  5 * time.Second,
		Attempts: 1,
	}, nil)
	return NewNexusPHP(client, nil)
}

func testSite(baseURL string) *model.Site {
	return &model.Site{
		Name:   "テストサイト",
		Domain: "example.com",
		URL:    baseURL,
	}
}

func TestCheckRegistration_InviteOnlyText_Closed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><table><td>本站目前仅允许通过邀请注册，请耐心等待。</td></table></body></html>`))
	}))
	defer srv.Close()

	got := newTestEngine().CheckRegistration(context.Background(), testSite(srv.URL))

	if got.State != model.StateClosed {
		t.Errorf("State = %q, want %q", got.State, model.StateClosed)
	}
	if got.Evidence.Reason != "registration_closed" {
		t.Errorf("Reason = %q, want %q", got.Evidence.Reason, "registration_closed")
	}
	if got.Evidence.Matched == "" {
		t.Error("Matchedにマッチしたパターンが入るべき")
	}
}

func TestCheckRegistration_ClosedPhrases(t *testing.T) {
	phrases := []string{
		"注册已经关闭",
		"暂停注册",
		"停止注册",
		"当前不开放注册",
		"只接受邀请注册",
		"Registration closed for now",
		"Signups are closed",
		"This tracker is invite only",
	}
	for _, phrase := range phrases {
		t.Run(phrase, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html><body><form></form><p>" + phrase + "</p></body></html>"))
			}))
			defer srv.Close()

			got := newTestEngine().CheckRegistration(context.Background(), testSite(srv.URL))
			if got.State != model.StateClosed {
				t.Errorf("State = %q, want closed", got.State)
			}
			if got.Evidence.Reason != "registration_closed" {
				t.Errorf("Reason = %q, want registration_closed", got.Evidence.Reason)
			}
		})
	}
}

func TestCheckRegistration_SignupForm_Open(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/signup.php" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<html><body><form action="takesignup.php" method="post">
			<input type="text" name="username"/>
			<input type="password" name="password"/>
			<input type="submit" value="注册"/>
		</form></body></html>`))
	}))
	defer srv.Close()

	got := newTestEngine().CheckRegistration(context.Background(), testSite(srv.URL))

	if got.State != model.StateOpen {
		t.Errorf("State = %q, want %q", got.State, model.StateOpen)
	}
	if got.Evidence.Reason != "signup_form_detected" {
		t.Errorf("Reason = %q, want %q", got.Evidence.Reason, "signup_form_detected")
	}
}

func TestCheckRegistration_FormMissing_Closed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>欢迎来到本站</p></body></html>`))
	}))
	defer srv.Close()

	got := newTestEngine().CheckRegistration(context.Background(), testSite(srv.URL))

	if got.State != model.StateClosed {
		t.Errorf("State = %q, want closed", got.State)
	}
	if got.Evidence.Reason != "signup_form_missing" {
		t.Errorf("Reason = %q, want signup_form_missing", got.Evidence.Reason)
	}
}

func TestCheckRegistration_InviteCodeField_Closed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><form action="takesignup.php">
			<input type="text" name="invite_code"/>
			<input type="submit" value="注册"/>
		</form></body></html>`))
	}))
	defer srv.Close()

	got := newTestEngine().CheckRegistration(context.Background(), testSite(srv.URL))

	if got.State != model.StateClosed {
		t.Errorf("State = %q, want closed", got.State)
	}
	if got.Evidence.Reason != "invite_required" {
		t.Errorf("Reason = %q, want invite_required", got.Evidence.Reason)
	}
}

func TestCheckRegistration_NotFound_Unknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	got := newTestEngine().CheckRegistration(context.Background(), testSite(srv.URL))

	if got.State != model.StateUnknown {
		t.Errorf("State = %q, want unknown", got.State)
	}
	if got.Evidence.Reason != "signup_page_not_found" {
		t.Errorf("Reason = %q, want signup_page_not_found", got.Evidence.Reason)
	}
}

func TestCheckInvites_MissingCookie_Unknown(t *testing.T) {
	got := newTestEngine().CheckInvites(context.Background(), testSite("http://example.invalid"), "")

	if got.State != model.StateUnknown {
		t.Errorf("State = %q, want unknown", got.State)
	}
	if got.Evidence.Reason != "missing_cookie" {
		t.Errorf("Reason = %q, want missing_cookie", got.Evidence.Reason)
	}
}

// ホームのナビ割当が0(0)のとき、邀请ページを一切取得せずにclosedで確定すること
func TestCheckInvites_HomeQuotaZero_ShortCircuit(t *testing.T) {
	var invitePageFetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body>
				<a href="userdetails.php?id=1234">user</a>
				<span>邀请 [发送]: 0(0)</span>
			</body></html>`))
		default:
			invitePageFetches.Add(1)
			w.Write([]byte("<html><body>invite page</body></html>"))
		}
	}))
	defer srv.Close()

	got := newTestEngine().CheckInvites(context.Background(), testSite(srv.URL), "uid=1; pass=x")

	if got.State != model.StateClosed {
		t.Errorf("State = %q, want closed", got.State)
	}
	if got.Evidence.Reason != "invite_quota_home_zero" {
		t.Errorf("Reason = %q, want invite_quota_home_zero", got.Evidence.Reason)
	}
	if got.Available == nil || *got.Available != 0 {
		t.Errorf("Available = %v, want 0", got.Available)
	}
	if n := invitePageFetches.Load(); n != 0 {
		t.Errorf("ゼロクォータ時に邀请ページを取得してはいけない: fetches = %d", n)
	}
}

// 割当が正でも発送コントロールがdisabledならclosed（権限不足）となること
func TestCheckInvites_QuotaPositiveButDisabledControl_Closed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body><span>邀请 [发送]: 5(2)</span>
				<a href="invite.php?id=1">邀请</a></body></html>`))
		case "/invite.php":
			w.Write([]byte(`<html><body>
				<form action="invite.php?id=1&type=new" method="post">
					<input type="submit" value="发送邀请" disabled/>
				</form>
			</body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got := newTestEngine().CheckInvites(context.Background(), testSite(srv.URL), "uid=1")

	if got.State != model.StateClosed {
		t.Errorf("State = %q, want closed", got.State)
	}
	if got.Evidence.Reason != "invite_permission_denied" {
		t.Errorf("Reason = %q, want invite_permission_denied", got.Evidence.Reason)
	}
	if got.Permanent == nil || *got.Permanent != 5 {
		t.Errorf("Permanent = %v, want 5", got.Permanent)
	}
	if got.Temporary == nil || *got.Temporary != 2 {
		t.Errorf("Temporary = %v, want 2", got.Temporary)
	}
	if got.Available == nil || *got.Available != 0 {
		t.Errorf("Available = %v, want 0", got.Available)
	}
}

// 割当が正かつ有効な発送フォームがあればopenとなること
func TestCheckInvites_QuotaPositiveWithSendForm_Open(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body><span>邀请 [发送]: 3(1)</span>
				<a href="invite.php?id=7">邀请</a></body></html>`))
		case "/invite.php":
			w.Write([]byte(`<html><body>
				<form action="invite.php?id=7&type=new" method="post">
					<input type="submit" value="发送邀请"/>
				</form>
			</body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got := newTestEngine().CheckInvites(context.Background(), testSite(srv.URL), "uid=1")

	if got.State != model.StateOpen {
		t.Errorf("State = %q, want open", got.State)
	}
	if got.Available == nil || *got.Available != 4 {
		t.Errorf("Available = %v, want 4 (永久3+限时1)", got.Available)
	}
	if got.Evidence.Reason != "invite_quota_home_header" {
		t.Errorf("Reason = %q, want invite_quota_home_header", got.Evidence.Reason)
	}
}

// 割当が正でも発送アクションが見つからなければclosed（保守的判定）となること
func TestCheckInvites_QuotaPositiveNoAction_Closed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body><span>邀请 [发送]: 2(0)</span>
				<a href="invite.php?id=7">邀请</a></body></html>`))
		case "/invite.php":
			w.Write([]byte(`<html><body><p>邀请记录</p><table></table></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got := newTestEngine().CheckInvites(context.Background(), testSite(srv.URL), "uid=1")

	if got.State != model.StateClosed {
		t.Errorf("State = %q, want closed", got.State)
	}
	if got.Evidence.Reason != "invite_action_not_found" {
		t.Errorf("Reason = %q, want invite_action_not_found", got.Evidence.Reason)
	}
}

// Cookie失効でログインページに誘導された場合はunknownとなること
func TestCheckInvites_LoginRedirect_Unknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login.php" {
			w.Write([]byte(`<html><body><form><input type="password" name="password"/>登录</form></body></html>`))
			return
		}
		http.Redirect(w, r, "/login.php", http.StatusFound)
	}))
	defer srv.Close()

	got := newTestEngine().CheckInvites(context.Background(), testSite(srv.URL), "uid=expired")

	if got.State != model.StateUnknown {
		t.Errorf("State = %q, want unknown", got.State)
	}
	if got.Evidence.Reason != "not_logged_in" {
		t.Errorf("Reason = %q, want not_logged_in", got.Evidence.Reason)
	}
}

// ホームに割当表示がなく、邀请ページ本文から可用数を拾えること
func TestCheckInvites_CountFromInvitePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body><a href="invite.php?id=9">邀请</a></body></html>`))
		case "/invite.php":
			w.Write([]byte(`<html><body>
				<p>可用邀请: 3</p>
				<form action="invite.php?id=9&type=new"><input type="submit" value="发送邀请"/></form>
			</body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got := newTestEngine().CheckInvites(context.Background(), testSite(srv.URL), "uid=1")

	if got.State != model.StateOpen {
		t.Errorf("State = %q, want open", got.State)
	}
	if got.Available == nil || *got.Available != 3 {
		t.Errorf("Available = %v, want 3", got.Available)
	}
	if got.Evidence.Reason != "invite_count_parsed" {
		t.Errorf("Reason = %q, want invite_count_parsed", got.Evidence.Reason)
	}
}

func TestParseHomeInviteQuota(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantPerm *int
		wantTemp *int
	}{
		{"簡体字_内訳付き", "邀请 [发送]: 5(2)", model.IntPtr(5), model.IntPtr(2)},
		{"繁体字", "邀請 [發送]: 12(0)", model.IntPtr(12), model.IntPtr(0)},
		{"内訳なし", "邀请[发送]: 7", model.IntPtr(7), model.IntPtr(0)},
		{"全角コロン", "邀请 [发送]： 3 (1)", model.IntPtr(3), model.IntPtr(1)},
		{"マッチなし", "魔力值: 1000", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perm, temp, matched := parseHomeInviteQuota(tt.text)
			if (perm == nil) != (tt.wantPerm == nil) || (perm != nil && *perm != *tt.wantPerm) {
				t.Errorf("permanent = %v, want %v", perm, tt.wantPerm)
			}
			if (temp == nil) != (tt.wantTemp == nil) || (temp != nil && *temp != *tt.wantTemp) {
				t.Errorf("temporary = %v, want %v", temp, tt.wantTemp)
			}
			if tt.wantPerm != nil && matched == "" {
				t.Error("マッチ時はmatchedが入るべき")
			}
		})
	}
}

func TestParseInviteCount(t *testing.T) {
	tests := []struct {
		text string
		want *int
	}{
		{"You have 3 invites", model.IntPtr(3)},
		{"可用邀请: 5", model.IntPtr(5)},
		{"剩余邀请：2", model.IntPtr(2)},
		{"您还有 4 个邀请", model.IntPtr(4)},
		{"invites left: 1", model.IntPtr(1)},
		{"没有相关信息", nil},
	}
	for _, tt := range tests {
		got, _ := parseInviteCount(tt.text)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("parseInviteCount(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"重複なし", []string{"a", "b"}, []string{"a", "b"}},
		{"重複は先勝ちで順序維持", []string{"a", "b", "a", "c", "b"}, []string{"a", "b", "c"}},
		{"空スライス", []string{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dedupe(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("dedupe(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("dedupe(%v)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

// 既定パスと候補リストが重なっても同じ邀请URLを二度取得しないこと
func TestCheckInvites_CandidateURLsFetchedOnce(t *testing.T) {
	var mu sync.Mutex
	fetches := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte(`<html><body><span>邀请 [发送]: 5(2)</span></body></html>`))
			return
		}
		mu.Lock()
		fetches[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	newTestEngine().CheckInvites(context.Background(), testSite(srv.URL), "uid=1; pass=x")

	mu.Lock()
	defer mu.Unlock()
	for path, n := range fetches {
		if n > 1 {
			t.Errorf("邀请ページ候補 %q を%d回取得しました（1回であるべき）", path, n)
		}
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{"https://pt.example.com", "signup.php", "https://pt.example.com/signup.php"},
		{"https://pt.example.com/", "/invite.php", "https://pt.example.com/invite.php"},
		{"https://pt.example.com", "invite.php?id=5", "https://pt.example.com/invite.php?id=5"},
	}
	for _, tt := range tests {
		if got := joinURL(tt.base, tt.path); got != tt.want {
			t.Errorf("joinURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}
