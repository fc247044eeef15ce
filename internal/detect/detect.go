// Package detect は到達性プローブとサイト単位の総合判定を提供する。
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/ptwatch/internal/engine"
	"github.com/hitoshi/ptwatch/internal/fetch"
	"github.com/hitoshi/ptwatch/internal/model"
)

// nexusphpHintTokens はHTMLからNexusPHP系サイトと推定するためのトークン。
var nexusphpHintTokens = []string{
	"torrents.php", "userdetails.php", "takesignup.php", "takeinvite.php", "login.php",
}

// Prober はサイトの到達性を確認する。
type Prober struct {
	client *fetch.Client
	logger *slog.Logger
}

// NewProber はProberを生成する。
func NewProber(client *fetch.Client, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{client: client, logger: logger}
}

// Probe はトップページを取得して到達性を判定する。
// 別ドメインへのリダイレクト（パーキング・販売ページ等）と
// 5xx・CDNエラー（520-529）はdownとして扱う。
// あわせてHTML内容からエンジン種別のヒントを返す。
func (p *Prober) Probe(ctx context.Context, site *model.Site) (model.ReachabilityResult, model.Engine) {
	resp, err := p.client.Get(ctx, site.URL, probeHeaders(site))
	if err != nil {
		return model.ReachabilityResult{
			State: model.ReachDown,
			Evidence: model.Evidence{
				URL:    site.URL,
				Reason: "probe_error:request_failed",
				Detail: errDetail(err),
			},
		}, ""
	}

	hint := engineHintFromHTML(string(resp.Body))

	origHost := hostOf(site.URL)
	finalHost := hostOf(resp.FinalURL)
	if origHost != "" && finalHost != "" && !hostsRelated(origHost, finalHost) {
		return model.ReachabilityResult{
			State: model.ReachDown,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     "probe_redirect",
				Detail:     "redirected_to:" + finalHost,
			},
		}, hint
	}

	if resp.StatusCode >= 500 || (resp.StatusCode >= 520 && resp.StatusCode <= 529) {
		return model.ReachabilityResult{
			State: model.ReachDown,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     fmt.Sprintf("probe_http_%d", resp.StatusCode),
			},
		}, hint
	}

	return model.ReachabilityResult{
		State: model.ReachUp,
		Evidence: model.Evidence{
			URL:        resp.FinalURL,
			HTTPStatus: resp.StatusCode,
			Reason:     "probe_ok",
		},
	}, hint
}

// InviteChecker は邀请判定エンジンのインターフェース。
type InviteChecker interface {
	CheckInvites(ctx context.Context, site *model.Site, cookieHeader string) model.AspectResult
}

// Checker は到達性・注册・邀请を統合して1サイトの結果を作る。
type Checker struct {
	prober   *Prober
	nexusphp *engine.NexusPHP
	mteam    InviteChecker
	logger   *slog.Logger
}

// NewChecker はCheckerを生成する。
func NewChecker(prober *Prober, nexusphp *engine.NexusPHP, mteam InviteChecker, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{prober: prober, nexusphp: nexusphp, mteam: mteam, logger: logger}
}

// CheckSite は1サイトの総合チェックを実行する。
// 到達不能の場合は注册・邀请ともunknown（site_unreachable）として
// 既知の状態を誤って上書きしないようにする。
// 同一入力に対して決定的であり、再実行しても同じ結果を返す。
func (c *Checker) CheckSite(ctx context.Context, site *model.Site, cookieHeader string, now time.Time) model.SiteCheckResult {
	reachability, hint := c.prober.Probe(ctx, site)

	eng := site.EffectiveEngine()
	if eng == model.EngineCustom && hint != "" {
		eng = hint
	}

	if reachability.State != model.ReachUp {
		detail := reachability.Evidence.Detail
		if detail == "" {
			detail = reachability.Evidence.Reason
		}
		unreachable := func(pageURL string) model.AspectResult {
			return model.AspectResult{
				State: model.StateUnknown,
				Evidence: model.Evidence{
					URL:    pageURL,
					Reason: "site_unreachable",
					Detail: detail,
				},
			}
		}
		return model.SiteCheckResult{
			Site:         *site,
			Engine:       eng,
			Reachability: reachability,
			Registration: unreachable(joinSiteURL(site.URL, site.EffectiveRegistrationPath())),
			Invites:      unreachable(joinSiteURL(site.URL, site.EffectiveInvitePath())),
			CheckedAt:    now,
		}
	}

	// 注册はエンジンに関わらずHTMLページで判定する
	registration := c.nexusphp.CheckRegistration(ctx, site)

	var invites model.AspectResult
	if eng == model.EngineMTeam && strings.TrimSpace(site.APIKey) != "" {
		invites = c.mteam.CheckInvites(ctx, site, "")
		if invites.State == model.StateUnknown && cookieHeader != "" {
			// APIが使えない場合はHTMLページへフォールバック
			invites = c.nexusphp.CheckInvites(ctx, site, cookieHeader)
		}
	} else if eng == model.EngineMTeam {
		if cookieHeader != "" {
			invites = c.nexusphp.CheckInvites(ctx, site, cookieHeader)
		} else {
			invites = model.AspectResult{
				State: model.StateUnknown,
				Evidence: model.Evidence{
					URL:    engine.MTeamProfileURL,
					Reason: "missing_auth",
					Detail: "api-key not configured",
				},
			}
		}
	} else {
		invites = c.nexusphp.CheckInvites(ctx, site, cookieHeader)
	}

	return model.SiteCheckResult{
		Site:         *site,
		Engine:       eng,
		Reachability: reachability,
		Registration: registration,
		Invites:      invites,
		CheckedAt:    now,
	}
}

func engineHintFromHTML(html string) model.Engine {
	h := strings.ToLower(html)
	if h == "" {
		return ""
	}
	if strings.Contains(h, "nexusphp") {
		return model.EngineNexusPHP
	}
	for _, token := range nexusphpHintTokens {
		if strings.Contains(h, token) {
			return model.EngineNexusPHP
		}
	}
	return ""
}

// hostsRelated は2つのホストが同一サイトに属するとみなせるか判定する。
// サブドメイン間の移動（www付与など）はリダイレクトとして正常範囲とする。
func hostsRelated(hostA, hostB string) bool {
	a := strings.Trim(strings.ToLower(hostA), ".")
	b := strings.Trim(strings.ToLower(hostB), ".")
	if a == "" || b == "" {
		return true
	}
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func joinSiteURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

func probeHeaders(site *model.Site) map[string]string {
	if site.UserAgent == "" {
		return nil
	}
	return map[string]string{"User-Agent": site.UserAgent}
}

func errDetail(err error) string {
	s := strings.TrimSpace(err.Error())
	if len([]rune(s)) > 240 {
		s = string([]rune(s)[:239]) + "…"
	}
	return s
}
