// Package engine はサイト種別ごとの注册・邀请判定エンジンを提供する。
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/ptwatch/internal/fetch"
	"github.com/hitoshi/ptwatch/internal/model"
)

// Detector はサイトの注册状態と邀请状態を判定するインターフェース。
type Detector interface {
	// CheckRegistration は注册ページを取得して開放状態を判定する。
	CheckRegistration(ctx context.Context, site *model.Site) model.AspectResult

	// CheckInvites はホームと邀请ページを取得して邀请発行可否を判定する。
	// cookieHeaderが空の場合はunknownを返す。
	CheckInvites(ctx context.Context, site *model.Site, cookieHeader string) model.AspectResult
}

// 注册closedを示す文言パターン。簡体字・繁体字・英語を網羅する。
var registrationClosedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)registration\s+closed`),
	regexp.MustCompile(`(?i)signups?\s+(are\s+)?closed`),
	regexp.MustCompile(`(?i)signup\s+closed`),
	regexp.MustCompile(`(?i)closed\s+registration`),
	regexp.MustCompile(`(?i)invite\s+only`),
	regexp.MustCompile(`(?i)invitation\s+only`),
	regexp.MustCompile(`注册(已经)?关闭`),
	regexp.MustCompile(`暂停注册`),
	regexp.MustCompile(`停止注册`),
	regexp.MustCompile(`当前不开放注册`),
	regexp.MustCompile(`自由注册.{0,10}关闭`),
	regexp.MustCompile(`(?:自由|开放)注册.{0,10}打烊`),
	regexp.MustCompile(`(?:只|仅)(?:允许|接受).{0,10}邀请注册`),
}

// 邀请機能そのものの停止を示す文言パターン。
var inviteDisabledPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invites?\s+(are\s+)?disabled`),
	regexp.MustCompile(`(?i)inviting\s+is\s+disabled`),
	regexp.MustCompile(`(?i)you\s+are\s+not\s+allowed\s+to\s+invite`),
	regexp.MustCompile(`邀请功能(已经)?关闭`),
	regexp.MustCompile(`禁止邀请`),
	regexp.MustCompile(`无邀请权限`),
}

// 邀请ページ本文から可用数を拾うパターン。
var inviteCountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)you\s+have\s+(\d{1,4})\s+invites?`),
	regexp.MustCompile(`(?i)available\s+invites?\s*[:：]\s*(\d{1,4})`),
	regexp.MustCompile(`(?i)invites?\s*available\s*[:：]\s*(\d{1,4})`),
	regexp.MustCompile(`(?i)invites?\s*(?:left|remaining)\s*[:：]?\s*(\d{1,4})`),
	regexp.MustCompile(`可用(?:邀请|邀請)\s*[:：]?\s*(\d{1,4})`),
	regexp.MustCompile(`(?:剩余|剩餘)(?:邀请|邀請)\s*[:：]?\s*(\d{1,4})`),
	regexp.MustCompile(`(?:你|您)\s*(?:还|還)?\s*有\s*(\d{1,4})\s*(?:个)?\s*(?:邀请|邀請)`),
}

// ホーム上部ナビの「邀请[发送]: 永久(限时)」形式。
var homeInviteQuotaPattern = regexp.MustCompile(
	`(?:邀请|邀請)\s*\[\s*(?:发送|發送)\s*\]\s*[:：]?\s*(\d{1,4})\s*(?:\(\s*(\d{1,4})\s*\))?`,
)

// 等級不足など邀请権限がないことを示す文言パターン。
var invitePermissionDeniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:或以上|及以上).{0,80}(?:才可(?:以)?|才能).{0,20}(?:发送|發送).{0,10}(?:邀请|邀請)`),
	regexp.MustCompile(`(?:你|您).{0,30}(?:没有|無).{0,30}(?:邀请|邀請).{0,20}(?:权限|權限)`),
	regexp.MustCompile(`(?i)(?:not\s+allowed\s+to\s+invite|invites?\s+are\s+disabled)`),
}

var (
	userIDPattern         = regexp.MustCompile(`(?i)userdetails\.php\?id=(\d{1,10})`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
	sendInviteLabelRe     = regexp.MustCompile(`(?i)(?:发送|發送).{0,5}(?:邀请|邀請)|send\s+invite`)
	invitePageCandidates  = []string{"invite.php", "invite"}
	inviteOthersTokenList = []string{"邀请其他人", "邀請其他人", "邀请他人", "邀請他人"}
)

// NexusPHP はNexusPHP系サイトのHTML判定エンジン。
type NexusPHP struct {
	client *fetch.Client
	logger *slog.Logger
}

// NewNexusPHP はNexusPHPエンジンを生成する。
func NewNexusPHP(client *fetch.Client, logger *slog.Logger) *NexusPHP {
	if logger == nil {
		logger = slog.Default()
	}
	return &NexusPHP{client: client, logger: logger}
}

// CheckRegistration は注册ページを取得して開放状態を判定する。
// 判定順序: closed文言 → フォーム欠落 → 邀请コード必須 → open。
// closed寄りの判定を先に行うことで誤検知（closedなのにopen通知）を避ける。
func (d *NexusPHP) CheckRegistration(ctx context.Context, site *model.Site) model.AspectResult {
	pageURL := joinURL(site.URL, site.EffectiveRegistrationPath())
	resp, err := d.client.Get(ctx, pageURL, siteHeaders(site, ""))
	if err != nil {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:    pageURL,
				Reason: "registration_error:request_failed",
				Detail: truncateDetail(err.Error()),
			},
		}
	}

	if resp.StatusCode == 404 {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     "signup_page_not_found",
			},
		}
	}
	if resp.StatusCode >= 500 {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     fmt.Sprintf("registration_error:HTTP%d", resp.StatusCode),
			},
		}
	}

	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	text := normalizeText(string(resp.Body))
	if docErr == nil {
		text = extractText(doc)
	}

	if pat := matchAny(registrationClosedPatterns, text); pat != "" {
		return model.AspectResult{
			State: model.StateClosed,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     "registration_closed",
				Matched:    pat,
			},
		}
	}

	if docErr != nil || doc.Find("form").Length() == 0 {
		return model.AspectResult{
			State: model.StateClosed,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     "signup_form_missing",
			},
		}
	}

	if hasInviteField(doc, text) {
		return model.AspectResult{
			State: model.StateClosed,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     "invite_required",
			},
		}
	}

	return model.AspectResult{
		State: model.StateOpen,
		Evidence: model.Evidence{
			URL:        resp.FinalURL,
			HTTPStatus: resp.StatusCode,
			Reason:     "signup_form_detected",
		},
	}
}

// CheckInvites はホームと邀请ページを取得して邀请発行可否を判定する。
//
// ホームのナビに「邀请[发送]: N(M)」形式の割当が出ている場合はそれを最優先し、
// 両方0なら邀请ページを取得せずにclosedで確定する（ゼロクォータ短絡）。
// 割当が正でも、邀请ページに有効な発送アクションが見つからなければclosedとする。
// 発行できるか不確かな状態をopenと報告しない保守的バイアスを取る。
func (d *NexusPHP) CheckInvites(ctx context.Context, site *model.Site, cookieHeader string) model.AspectResult {
	inviteURL := joinURL(site.URL, site.EffectiveInvitePath())
	if cookieHeader == "" {
		return model.AspectResult{
			State:    model.StateUnknown,
			Evidence: model.Evidence{URL: inviteURL, Reason: "missing_cookie"},
		}
	}

	homeResp, err := d.client.Get(ctx, site.URL, siteHeaders(site, cookieHeader))
	if err != nil {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:    site.URL,
				Reason: "invites_error:request_failed",
				Detail: truncateDetail(err.Error()),
			},
		}
	}
	if homeResp.StatusCode >= 500 {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        homeResp.FinalURL,
				HTTPStatus: homeResp.StatusCode,
				Reason:     fmt.Sprintf("invites_error:HTTP%d", homeResp.StatusCode),
			},
		}
	}
	if looksLikeLogin(homeResp) {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        homeResp.FinalURL,
				HTTPStatus: homeResp.StatusCode,
				Reason:     "not_logged_in",
			},
		}
	}

	homeDoc, homeDocErr := goquery.NewDocumentFromReader(bytes.NewReader(homeResp.Body))
	homeText := normalizeText(string(homeResp.Body))
	if homeDocErr == nil {
		homeText = extractText(homeDoc)
	}

	quotaPerm, quotaTemp, quotaMatched := parseHomeInviteQuota(homeText)
	var quotaTotal *int
	if quotaPerm != nil {
		total := *quotaPerm + intOrZero(quotaTemp)
		quotaTotal = &total
		if *quotaPerm == 0 && intOrZero(quotaTemp) == 0 && quotaMatched != "" {
			// ゼロクォータ短絡: 邀请ページは取得しない
			evidenceURL := homeResp.FinalURL
			if userID := extractUserID(string(homeResp.Body)); userID != "" {
				evidenceURL = joinURL(site.URL, "invite.php?id="+userID)
			}
			zero := 0
			return model.AspectResult{
				State:     model.StateClosed,
				Available: &zero,
				Permanent: quotaPerm,
				Temporary: intPtrOrZero(quotaTemp),
				Evidence: model.Evidence{
					URL:        evidenceURL,
					HTTPStatus: homeResp.StatusCode,
					Reason:     "invite_quota_home_zero",
					Matched:    quotaMatched,
				},
			}
		}
	}

	inviteResp, errResult := d.fetchInvitePage(ctx, site, cookieHeader, homeDoc, homeDocErr == nil, string(homeResp.Body), quotaTotal)
	if inviteResp == nil {
		return *errResult
	}

	if looksLikeLogin(inviteResp) {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        inviteResp.FinalURL,
				HTTPStatus: inviteResp.StatusCode,
				Reason:     "not_logged_in",
			},
		}
	}

	inviteDoc, inviteDocErr := goquery.NewDocumentFromReader(bytes.NewReader(inviteResp.Body))
	inviteText := normalizeText(string(inviteResp.Body))
	if inviteDocErr == nil {
		inviteText = extractText(inviteDoc)
	}

	if pat := matchAny(inviteDisabledPatterns, inviteText); pat != "" {
		zero := 0
		return model.AspectResult{
			State:     model.StateClosed,
			Available: &zero,
			Permanent: quotaPerm,
			Temporary: quotaTemp,
			Evidence: model.Evidence{
				URL:        inviteResp.FinalURL,
				HTTPStatus: inviteResp.StatusCode,
				Reason:     "invites_disabled",
				Matched:    pat,
				Detail:     quotaDetail(quotaPerm, quotaTemp, quotaTotal),
			},
		}
	}

	count := quotaTotal
	matched := quotaMatched
	if count == nil {
		count, matched = parseInviteCount(inviteText)
	}

	var actionStatus *bool
	var actionMatched string
	if inviteDocErr == nil {
		actionStatus, actionMatched = inviteSendActionStatus(inviteDoc)
	}
	if actionStatus != nil && !*actionStatus {
		return closedPermissionDenied(inviteResp, quotaPerm, quotaTemp, count, actionMatched)
	}

	if pat := matchAnyInTexts(invitePermissionDeniedPatterns, inviteText, string(inviteResp.Body)); pat != "" {
		return closedPermissionDenied(inviteResp, quotaPerm, quotaTemp, count, pat)
	}

	if count == nil {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        inviteResp.FinalURL,
				HTTPStatus: inviteResp.StatusCode,
				Reason:     "invite_count_not_found",
			},
		}
	}

	if actionStatus == nil && *count > 0 {
		// 発送アクションが見つからない限り、割当が正でもopenとは報告しない
		zero := 0
		return model.AspectResult{
			State:     model.StateClosed,
			Available: &zero,
			Permanent: permOr(quotaPerm, count),
			Temporary: tempOr(quotaPerm, quotaTemp),
			Evidence: model.Evidence{
				URL:        inviteResp.FinalURL,
				HTTPStatus: inviteResp.StatusCode,
				Reason:     "invite_action_not_found",
				Detail:     fmt.Sprintf("quota_total=%d", *count),
			},
		}
	}

	state := model.StateClosed
	if *count > 0 {
		state = model.StateOpen
	}
	reason := "invite_quota_home_header"
	if quotaTotal == nil {
		reason = "invite_count_parsed"
	}
	evMatched := actionMatched
	if evMatched == "" {
		evMatched = matched
	}
	return model.AspectResult{
		State:     state,
		Available: count,
		Permanent: permOr(quotaPerm, count),
		Temporary: tempOr(quotaPerm, quotaTemp),
		Evidence: model.Evidence{
			URL:        inviteResp.FinalURL,
			HTTPStatus: inviteResp.StatusCode,
			Reason:     reason,
			Matched:    evMatched,
		},
	}
}

// fetchInvitePage は邀请ページ候補を順に取得し、最初に利用可能なレスポンスを返す。
// 全候補が失敗した場合は(nil, unknownのAspectResult)を返す。
func (d *NexusPHP) fetchInvitePage(
	ctx context.Context,
	site *model.Site,
	cookieHeader string,
	homeDoc *goquery.Document,
	homeDocOK bool,
	homeHTML string,
	quotaTotal *int,
) (*fetch.Response, *model.AspectResult) {
	var extracted string
	if homeDocOK {
		extracted = extractInviteURL(homeDoc, site.URL)
	}
	if extracted == "" {
		if userID := extractUserID(homeHTML); userID != "" {
			extracted = joinURL(site.URL, "invite.php?id="+userID)
		}
	}

	candidates := []string{joinURL(site.URL, site.EffectiveInvitePath())}
	if extracted != "" {
		candidates = append(candidates, extracted)
	}
	for _, p := range invitePageCandidates {
		candidates = append(candidates, joinURL(site.URL, p))
	}
	candidates = dedupe(candidates)

	var lastErr error
	var lastErrURL string
	var lastHTTPErr *fetch.Response
	for _, u := range candidates {
		resp, err := d.client.Get(ctx, u, siteHeaders(site, cookieHeader))
		if err != nil {
			lastErr = err
			lastErrURL = u
			continue
		}
		if resp.StatusCode == 404 {
			continue
		}
		if resp.StatusCode >= 500 {
			lastHTTPErr = resp
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, &model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:    lastErrURL,
				Reason: "invites_error:request_failed",
				Detail: truncateDetail(lastErr.Error()),
			},
		}
	}
	if lastHTTPErr != nil {
		return nil, &model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        lastHTTPErr.FinalURL,
				HTTPStatus: lastHTTPErr.StatusCode,
				Reason:     fmt.Sprintf("invites_error:HTTP%d", lastHTTPErr.StatusCode),
			},
		}
	}

	detail := ""
	if quotaTotal != nil {
		detail = fmt.Sprintf("quota_total=%d", *quotaTotal)
	}
	return nil, &model.AspectResult{
		State: model.StateUnknown,
		Evidence: model.Evidence{
			URL:        joinURL(site.URL, site.EffectiveInvitePath()),
			HTTPStatus: 404,
			Reason:     "invite_page_not_found",
			Detail:     detail,
		},
	}
}

func closedPermissionDenied(resp *fetch.Response, quotaPerm, quotaTemp, count *int, matched string) model.AspectResult {
	zero := 0
	detail := ""
	if count != nil {
		detail = fmt.Sprintf("quota_total=%d", *count)
	}
	return model.AspectResult{
		State:     model.StateClosed,
		Available: &zero,
		Permanent: permOr(quotaPerm, count),
		Temporary: tempOr(quotaPerm, quotaTemp),
		Evidence: model.Evidence{
			URL:        resp.FinalURL,
			HTTPStatus: resp.StatusCode,
			Reason:     "invite_permission_denied",
			Matched:    matched,
			Detail:     detail,
		},
	}
}

// inviteSendActionStatus は邀请の「发送/创建」アクションの有無と有効性を判定する。
// 戻り値: (true,label)=有効なアクションあり、(false,label)=disabled、(nil,"")=判定不能。
func inviteSendActionStatus(doc *goquery.Document) (*bool, string) {
	var status *bool
	var matched string

	// NexusPHPの標準形: action属性にtype=newを持つPOSTフォーム
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		action := strings.ToLower(form.AttrOr("action", ""))
		if !strings.Contains(action, "type=new") && !strings.Contains(action, "takeinvite.php") {
			return true
		}
		found := false
		form.Find("input, button").EachWithBreak(func(_ int, ctl *goquery.Selection) bool {
			if goquery.NodeName(ctl) == "input" {
				itype := strings.ToLower(ctl.AttrOr("type", ""))
				if itype != "" && itype != "submit" && itype != "button" {
					return true
				}
			}
			label := actionLabel(ctl)
			if label == "" {
				label = action
			}
			enabled := !hasAttr(ctl, "disabled")
			status = &enabled
			matched = label
			found = true
			return false
		})
		return !found
	})
	if status != nil {
		return status, matched
	}

	// フォームではなくリンクでtype=newを公開するサイト
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.ToLower(a.AttrOr("href", ""))
		if strings.Contains(href, "type=new") || strings.Contains(href, "takeinvite.php") {
			enabled := true
			status = &enabled
			matched = normalizeText(a.Text())
			if matched == "" {
				matched = href
			}
			return false
		}
		return true
	})
	if status != nil {
		return status, matched
	}

	// 「邀请其他人」のような明示的なアクション文言
	bodyText := extractText(doc)
	for _, token := range inviteOthersTokenList {
		if strings.Contains(bodyText, token) {
			enabled := true
			return &enabled, token
		}
	}

	// disabledコントロールに発送系のラベルが付いている場合（等級不足など）
	doc.Find("input, button").EachWithBreak(func(_ int, ctl *goquery.Selection) bool {
		if !hasAttr(ctl, "disabled") {
			return true
		}
		label := actionLabel(ctl)
		if label == "" {
			return true
		}
		if sendInviteLabelRe.MatchString(label) {
			disabled := false
			status = &disabled
			matched = label
			return false
		}
		return true
	})
	return status, matched
}

func actionLabel(ctl *goquery.Selection) string {
	if goquery.NodeName(ctl) == "input" {
		return normalizeText(ctl.AttrOr("value", ""))
	}
	return normalizeText(ctl.Text())
}

func hasAttr(sel *goquery.Selection, name string) bool {
	_, ok := sel.Attr(name)
	return ok
}

// looksLikeLogin はレスポンスがログインページへ誘導されたものか判定する。
func looksLikeLogin(resp *fetch.Response) bool {
	if strings.Contains(resp.FinalURL, "login.php") {
		return true
	}
	lower := strings.ToLower(string(resp.Body))
	if strings.Contains(lower, `type="password"`) &&
		(strings.Contains(lower, "login") || strings.Contains(lower, "登录") || strings.Contains(lower, "登陆")) {
		return true
	}
	return false
}

func hasInviteField(doc *goquery.Document, text string) bool {
	found := false
	doc.Find("input").EachWithBreak(func(_ int, inp *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(inp.AttrOr("name", "")), "invite") {
			found = true
			return false
		}
		return true
	})
	if found {
		return true
	}
	return strings.Contains(text, "邀请码") || strings.Contains(text, "邀請碼") ||
		strings.Contains(strings.ToLower(text), "invitation")
}

// extractInviteURL はホームHTML内のリンクから邀请ページURLを推定する。
// href/テキストの弱いスコアリングで最有力候補を選ぶ。
func extractInviteURL(doc *goquery.Document, baseURL string) string {
	bestScore := 0
	bestHref := ""
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		text := normalizeText(a.Text())
		score := 0
		if strings.Contains(strings.ToLower(href), "invite") {
			score += 2
		}
		if strings.Contains(text, "邀请") || strings.Contains(text, "邀請") {
			score += 2
		}
		if strings.Contains(text, "发送") || strings.Contains(text, "發送") {
			score++
		}
		if score > bestScore {
			bestScore = score
			bestHref = href
		}
	})
	if bestHref == "" {
		return ""
	}
	return joinURL(baseURL, bestHref)
}

func parseHomeInviteQuota(text string) (permanent, temporary *int, matched string) {
	m := homeInviteQuotaPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, ""
	}
	perm, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, nil, ""
	}
	temp := 0
	if m[2] != "" {
		if v, err := strconv.Atoi(m[2]); err == nil {
			temp = v
		}
	}
	return &perm, &temp, m[0]
}

func parseInviteCount(text string) (*int, string) {
	for _, pat := range inviteCountPatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil {
			return &v, m[0]
		}
	}
	return nil, ""
}

func extractUserID(html string) string {
	m := userIDPattern.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return m[1]
}

func matchAny(patterns []*regexp.Regexp, text string) string {
	for _, pat := range patterns {
		if pat.MatchString(text) {
			return pat.String()
		}
	}
	return ""
}

func matchAnyInTexts(patterns []*regexp.Regexp, texts ...string) string {
	for _, text := range texts {
		if pat := matchAny(patterns, text); pat != "" {
			return pat
		}
	}
	return ""
}

func extractText(doc *goquery.Document) string {
	return normalizeText(doc.Text())
}

func normalizeText(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// maxDetailLen はEvidence.Detailの最大長（rune数）。
const maxDetailLen = 240

func truncateDetail(s string) string {
	s = normalizeText(s)
	runes := []rune(s)
	if len(runes) > maxDetailLen {
		return string(runes[:maxDetailLen-1]) + "…"
	}
	return s
}

func quotaDetail(perm, temp, total *int) string {
	if total == nil {
		return ""
	}
	return fmt.Sprintf("quota_perm=%s quota_temp=%s quota_total=%d", intStr(perm), intStr(temp), *total)
}

func intStr(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func intPtrOrZero(v *int) *int {
	if v != nil {
		return v
	}
	zero := 0
	return &zero
}

// permOr はホーム割当が既知ならそれを、なければ合計値を永久枠として返す。
func permOr(quotaPerm, count *int) *int {
	if quotaPerm != nil {
		return quotaPerm
	}
	return count
}

// tempOr はホーム割当が既知のときのみ限时枠を返す。それ以外は0。
func tempOr(quotaPerm, quotaTemp *int) *int {
	if quotaPerm != nil {
		return quotaTemp
	}
	zero := 0
	return &zero
}

// dedupe は順序を保ったまま重複文字列を取り除く。
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// joinURL はベースURLとパスを結合する。
func joinURL(base, path string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	return u.ResolveReference(ref).String()
}

// siteHeaders はサイト固有のリクエストヘッダを構築する。
func siteHeaders(site *model.Site, cookieHeader string) map[string]string {
	headers := map[string]string{}
	if site.UserAgent != "" {
		headers["User-Agent"] = site.UserAgent
	}
	if cookieHeader != "" {
		headers["Cookie"] = cookieHeader
	}
	return headers
}

// compile-time interface check
var _ Detector = (*NexusPHP)(nil)
