package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/hitoshi/ptwatch/internal/fetch"
	"github.com/hitoshi/ptwatch/internal/model"
)

// MTeamProfileURL はM-TeamのプロフィールAPIエンドポイント。
const MTeamProfileURL = "https://api.m-team.cc/api/member/profile"

// maxInviteValue は招待数として妥当な上限。これを超える数値はノイズとして無視する。
const maxInviteValue = 1_000_000

// ヒューリスティック抽出用のフィールド名パターン。
var (
	inviteTokenRe   = regexp.MustCompile(`(?i)(invite|invitation)`)
	inviteValueRe   = regexp.MustCompile(`(?i)(count|quota|num|number|remain|left|available|rest)`)
	inviteExcludeRe = regexp.MustCompile(`(?i)(limit|max|min|token|code|hash|url)`)
	inviteTempRe    = regexp.MustCompile(`(?i)(temp|temporary)`)
	inviteTotalRe   = regexp.MustCompile(`(?i)(total|sum)`)
	digitsRe        = regexp.MustCompile(`^\d+$`)
)

// MTeam はM-TeamのJSON APIを使う邀请判定エンジン。
// 注册判定はHTMLエンジンに委譲するため、ここでは邀请のみを扱う。
type MTeam struct {
	client     *fetch.Client
	profileURL string
	logger     *slog.Logger
}

// NewMTeam はMTeamエンジンを生成する。profileURLが空の場合は本番APIを使う。
func NewMTeam(client *fetch.Client, profileURL string, logger *slog.Logger) *MTeam {
	if profileURL == "" {
		profileURL = MTeamProfileURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MTeam{client: client, profileURL: profileURL, logger: logger}
}

// CheckInvites はプロフィールAPIを呼び出して邀请数を取得する。
// data.invites（永久）とdata.limitInvites（限时）を最優先で読み、
// 見つからない場合はペイロード全体を走査するヒューリスティックにフォールバックする。
func (d *MTeam) CheckInvites(ctx context.Context, site *model.Site, _ string) model.AspectResult {
	apiKey := strings.TrimSpace(site.APIKey)
	if apiKey == "" {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:    d.profileURL,
				Reason: "missing_auth",
				Detail: "api-key not configured",
			},
		}
	}

	headers := map[string]string{
		"Accept":    "application/json, text/plain, */*",
		"x-api-key": apiKey,
	}
	if auth := strings.TrimSpace(site.Authorization); auth != "" {
		headers["Authorization"] = auth
	}
	if site.UserAgent != "" {
		headers["User-Agent"] = site.UserAgent
	}

	resp, err := d.client.Post(ctx, d.profileURL, headers, nil)
	if err != nil {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:    d.profileURL,
				Reason: "mteam_error:request_failed",
				Detail: truncateDetail(err.Error()),
			},
		}
	}

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     "mteam_auth_failed",
				Detail:     truncateDetail(string(resp.Body)),
			},
		}
	}
	if resp.StatusCode != 200 {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     fmt.Sprintf("mteam_error:HTTP%d", resp.StatusCode),
			},
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     "mteam_non_json",
				Detail:     truncateDetail(err.Error()),
			},
		}
	}

	if result := checkAPICode(payload, resp); result != nil {
		return *result
	}

	data, _ := payload["data"].(map[string]any)
	perm := coerceInt(data["invites"])
	temp := coerceInt(data["limitInvites"])
	matched := ""
	if perm != nil || temp != nil {
		perm = intPtrOrZero(perm)
		temp = intPtrOrZero(temp)
		matched = "invites/limitInvites"
	} else {
		perm, temp, matched = extractInviteQuota(data)
	}
	if perm == nil {
		return model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     "mteam_invite_quota_not_found",
			},
		}
	}

	total := *perm + intOrZero(temp)
	state := model.StateClosed
	if total > 0 {
		state = model.StateOpen
	}
	return model.AspectResult{
		State:     state,
		Available: &total,
		Permanent: perm,
		Temporary: intPtrOrZero(temp),
		Evidence: model.Evidence{
			URL:        resp.FinalURL,
			HTTPStatus: resp.StatusCode,
			Reason:     "mteam_profile",
			Matched:    matched,
		},
	}
}

// checkAPICode はAPIレベルのエラーコードを検査する。正常時はnilを返す。
func checkAPICode(payload map[string]any, resp *fetch.Response) *model.AspectResult {
	code, ok := payload["code"]
	if !ok || code == nil {
		return nil
	}
	codeStr := strings.TrimSpace(fmt.Sprintf("%v", code))
	if codeStr == "0" || codeStr == "" {
		return nil
	}

	msg := ""
	if m, ok := payload["message"].(string); ok {
		msg = truncateDetail(m)
	}
	msgLower := strings.ToLower(msg)
	if codeStr == "401" || codeStr == "403" || strings.Contains(msgLower, "authentication") || strings.Contains(msgLower, "鉴权") {
		detail := msg
		if detail == "" {
			detail = "code=" + codeStr
		}
		return &model.AspectResult{
			State: model.StateUnknown,
			Evidence: model.Evidence{
				URL:        resp.FinalURL,
				HTTPStatus: resp.StatusCode,
				Reason:     "mteam_auth_failed",
				Detail:     detail,
			},
		}
	}
	return &model.AspectResult{
		State: model.StateUnknown,
		Evidence: model.Evidence{
			URL:        resp.FinalURL,
			HTTPStatus: resp.StatusCode,
			Reason:     "mteam_api_error:" + codeStr,
			Detail:     msg,
		},
	}
}

// coerceInt はJSONデコード後の値を非負整数として解釈する。
// 真偽値、小数、数字以外の文字列はnilを返す。
func coerceInt(value any) *int {
	switch v := value.(type) {
	case bool:
		return nil
	case float64:
		if v != float64(int(v)) {
			return nil
		}
		i := int(v)
		return &i
	case string:
		s := strings.TrimSpace(v)
		if s == "" || !digitsRe.MatchString(s) {
			return nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &i
	case json.Number:
		i, err := strconv.Atoi(v.String())
		if err != nil {
			return nil
		}
		return &i
	default:
		return nil
	}
}

type numericField struct {
	path  string
	value int
}

// collectNumericFields はペイロードを再帰走査して数値フィールドをパス付きで集める。
func collectNumericFields(obj any, prefix string) []numericField {
	var items []numericField
	switch v := obj.(type) {
	case map[string]any:
		for k, val := range v {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if num := coerceInt(val); num != nil {
				items = append(items, numericField{path: path, value: *num})
			} else {
				items = append(items, collectNumericFields(val, path)...)
			}
		}
	case []any:
		for i, val := range v {
			path := fmt.Sprintf("%s[%d]", prefix, i)
			if prefix == "" {
				path = fmt.Sprintf("[%d]", i)
			}
			if num := coerceInt(val); num != nil {
				items = append(items, numericField{path: path, value: *num})
			} else {
				items = append(items, collectNumericFields(val, path)...)
			}
		}
	}
	return items
}

// extractInviteQuota はフィールド名のヒューリスティックで招待数を推定する。
// invite系トークンを含み、limit/max等の除外語を含まないフィールドを候補とし、
// temp系を限时、total系を合計、それ以外を永久として最大値を採用する。
func extractInviteQuota(payload any) (permanent, temporary *int, matched string) {
	fields := collectNumericFields(payload, "")
	var candidates []numericField
	for _, f := range fields {
		if f.value < 0 || f.value > maxInviteValue {
			continue
		}
		pathLower := strings.ToLower(f.path)
		if !inviteTokenRe.MatchString(pathLower) {
			continue
		}
		if inviteExcludeRe.MatchString(pathLower) {
			continue
		}
		parts := strings.Split(f.path, ".")
		leaf := strings.ToLower(parts[len(parts)-1])
		if inviteExcludeRe.MatchString(leaf) {
			continue
		}
		leafOK := inviteValueRe.MatchString(leaf)
		switch leaf {
		case "invite", "invites", "invitation", "invitations", "perm", "permanent", "temp", "temporary":
			leafOK = true
		}
		if !leafOK {
			continue
		}
		candidates = append(candidates, f)
	}

	if len(candidates) == 0 {
		return nil, nil, ""
	}

	var temp, perm, total *numericField
	for i := range candidates {
		f := candidates[i]
		k := strings.ToLower(f.path)
		switch {
		case inviteTempRe.MatchString(k):
			if temp == nil || f.value > temp.value {
				temp = &candidates[i]
			}
		case inviteTotalRe.MatchString(k):
			if total == nil || f.value > total.value {
				total = &candidates[i]
			}
		default:
			if perm == nil || f.value > perm.value {
				perm = &candidates[i]
			}
		}
	}

	var matchedParts []string
	if perm != nil {
		matchedParts = append(matchedParts, "perm="+perm.path)
	}
	if temp != nil {
		matchedParts = append(matchedParts, "temp="+temp.path)
	}
	if total != nil {
		matchedParts = append(matchedParts, "total="+total.path)
	}
	matched = strings.Join(matchedParts, "; ")

	var permVal, tempVal *int
	if perm != nil {
		permVal = &perm.value
	}
	if temp != nil {
		tempVal = &temp.value
	}

	if permVal == nil && total != nil && tempVal != nil && total.value >= *tempVal {
		diff := total.value - *tempVal
		permVal = &diff
	}
	if permVal == nil && total != nil {
		permVal = &total.value
		tempVal = intPtrOrZero(tempVal)
	}
	if permVal == nil && tempVal != nil {
		zero := 0
		permVal = &zero
	}

	return permVal, intPtrOrZero(tempVal), matched
}
