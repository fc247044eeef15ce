package detect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/ptwatch/internal/engine"
	"github.com/hitoshi/ptwatch/internal/fetch"
	"github.com/hitoshi/ptwatch/internal/model"
)

func newTestClient() *fetch.Client {
	return fetch.NewClient(fetch.Options{
		Timeout:  5 * time.Second,
		Attempts: 1,
	}, nil)
}

func TestProbe_OK_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="torrents.php">种子</a></body></html>`))
	}))
	defer srv.Close()

	prober := NewProber(newTestClient(), nil)
	got, hint := prober.Probe(context.Background(), &model.Site{URL: srv.URL})

	if got.State != model.ReachUp {
		t.Errorf("State = %q, want up", got.State)
	}
	if got.Evidence.Reason != "probe_ok" {
		t.Errorf("Reason = %q, want probe_ok", got.Evidence.Reason)
	}
	if hint != model.EngineNexusPHP {
		t.Errorf("engine hint = %q, want nexusphp", hint)
	}
}

func TestProbe_ServerError_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	prober := NewProber(newTestClient(), nil)
	got, _ := prober.Probe(context.Background(), &model.Site{URL: srv.URL})

	if got.State != model.ReachDown {
		t.Errorf("State = %q, want down", got.State)
	}
	if got.Evidence.Reason != "probe_http_502" {
		t.Errorf("Reason = %q, want probe_http_502", got.Evidence.Reason)
	}
}

func TestProbe_ConnectionError_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	prober := NewProber(newTestClient(), nil)
	got, _ := prober.Probe(context.Background(), &model.Site{URL: url})

	if got.State != model.ReachDown {
		t.Errorf("State = %q, want down", got.State)
	}
}

func TestHostsRelated(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"pt.example.com", "pt.example.com", true},
		{"example.com", "www.example.com", true},
		{"pt.example.com", "example.com", true},
		{"pt.example.com", "parking.example.net", false},
		{"", "example.com", true},
	}
	for _, tt := range tests {
		if got := hostsRelated(tt.a, tt.b); got != tt.want {
			t.Errorf("hostsRelated(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestEngineHintFromHTML(t *testing.T) {
	tests := []struct {
		name string
		html string
		want model.Engine
	}{
		{"nexusphp文言", `<meta name="generator" content="NexusPHP">`, model.EngineNexusPHP},
		{"login.phpリンク", `<a href="login.php">登录</a>`, model.EngineNexusPHP},
		{"ヒントなし", `<html><body>hello</body></html>`, ""},
		{"空", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engineHintFromHTML(tt.html); got != tt.want {
				t.Errorf("engineHintFromHTML = %q, want %q", got, tt.want)
			}
		})
	}
}

func newTestChecker(client *fetch.Client) *Checker {
	prober := NewProber(client, nil)
	nexus := engine.NewNexusPHP(client, nil)
	mteam := engine.NewMTeam(client, "http://unused.invalid", nil)
	return NewChecker(prober, nexus, mteam, nil)
}

// 到達不能時は注册・邀请ともunknown（site_unreachable）になること
func TestCheckSite_Unreachable_BothAspectsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	checker := newTestChecker(newTestClient())
	site := &model.Site{Name: "test", Domain: "example.com", URL: srv.URL}
	got := checker.CheckSite(context.Background(), site, "uid=1", time.Now())

	if got.Reachability.State != model.ReachDown {
		t.Fatalf("Reachability.State = %q, want down", got.Reachability.State)
	}
	if got.Registration.State != model.StateUnknown {
		t.Errorf("Registration.State = %q, want unknown", got.Registration.State)
	}
	if got.Registration.Evidence.Reason != "site_unreachable" {
		t.Errorf("Registration.Reason = %q, want site_unreachable", got.Registration.Evidence.Reason)
	}
	if got.Invites.State != model.StateUnknown {
		t.Errorf("Invites.State = %q, want unknown", got.Invites.State)
	}
	if got.Invites.Evidence.Reason != "site_unreachable" {
		t.Errorf("Invites.Reason = %q, want site_unreachable", got.Invites.Evidence.Reason)
	}
}

// 正常サイトの総合チェックで注册・邀请が判定されること
func TestCheckSite_FullScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body><a href="torrents.php">种子</a><span>邀请 [发送]: 0(0)</span></body></html>`))
		case "/signup.php":
			w.Write([]byte(`<html><body><form action="takesignup.php"><input type="text" name="username"/></form></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	checker := newTestChecker(newTestClient())
	site := &model.Site{Name: "test", Domain: "example.com", URL: srv.URL}
	now := time.Now()
	got := checker.CheckSite(context.Background(), site, "uid=1", now)

	if got.Reachability.State != model.ReachUp {
		t.Errorf("Reachability.State = %q, want up", got.Reachability.State)
	}
	if got.Registration.State != model.StateOpen {
		t.Errorf("Registration.State = %q, want open", got.Registration.State)
	}
	if got.Invites.State != model.StateClosed {
		t.Errorf("Invites.State = %q, want closed", got.Invites.State)
	}
	if !got.CheckedAt.Equal(now) {
		t.Errorf("CheckedAt = %v, want %v", got.CheckedAt, now)
	}
	if got.Engine != model.EngineNexusPHP {
		t.Errorf("Engine = %q, want nexusphp", got.Engine)
	}
}

// 同一入力に対するチェックが決定的であること（再実行しても同じ結果）
func TestCheckSite_Deterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body><a href="torrents.php">ts</a></body></html>`))
		case "/signup.php":
			w.Write([]byte(`<html><body><p>注册已经关闭</p></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	checker := newTestChecker(newTestClient())
	site := &model.Site{Name: "test", Domain: "example.com", URL: srv.URL}
	now := time.Now()

	first := checker.CheckSite(context.Background(), site, "", now)
	second := checker.CheckSite(context.Background(), site, "", now)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("同一入力で結果が異なる:\nfirst = %+v\nsecond = %+v", first, second)
	}
}
