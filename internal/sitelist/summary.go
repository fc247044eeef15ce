package sitelist

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/ptwatch/internal/model"
)

const summaryVersion = 1

// maxDiffLines は通知1通に含める変更行数の上限。
const maxDiffLines = 12

// Summary は有効なサイト一覧のスナップショット。
// 前回スキャン時のものと比較して一覧の増減・変更を通知する。
type Summary struct {
	Version   int                    `json:"version"`
	UpdatedAt time.Time              `json:"updated_at"`
	Items     map[string]SummaryItem `json:"items"`
}

// SummaryItem はサマリー中の1サイト分の属性。
type SummaryItem struct {
	Domain           string `json:"domain"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	Engine           string `json:"engine"`
	RegistrationPath string `json:"registration_path"`
	InvitePath       string `json:"invite_path"`
	Source           string `json:"source"`
}

// BuildSummary はマージ済みサイト一覧からサマリーを構築する。
func BuildSummary(sites []model.Site, now time.Time) Summary {
	items := make(map[string]SummaryItem, len(sites))
	for i := range sites {
		s := &sites[i]
		domain := model.NormalizeDomain(s.Domain)
		if domain == "" {
			continue
		}
		source := "manual"
		if s.ID != nil {
			source = "moviepilot"
		}
		items[domain] = SummaryItem{
			Domain:           domain,
			Name:             firstNonEmpty(s.Name, domain),
			URL:              strings.TrimSpace(s.URL),
			Engine:           string(s.EffectiveEngine()),
			RegistrationPath: s.EffectiveRegistrationPath(),
			InvitePath:       s.EffectiveInvitePath(),
			Source:           source,
		}
	}
	return Summary{Version: summaryVersion, UpdatedAt: now.UTC(), Items: items}
}

// Valid はサマリーの版が読める形かを返す。
func (s Summary) Valid() bool {
	return s.Version == summaryVersion
}

// FieldChange はサイト属性1件分の変更。
type FieldChange struct {
	Field  string
	Before string
	After  string
}

// Diff はサマリー2世代間の差分。
type Diff struct {
	Added   []string
	Removed []string
	Updated map[string][]FieldChange
}

// Empty は差分が存在しないかを返す。
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// 変更検知の対象フィールド。比較・表示の順序を兼ねる。
var summaryDiffFields = []struct {
	name string
	get  func(SummaryItem) string
}{
	{"name", func(i SummaryItem) string { return i.Name }},
	{"url", func(i SummaryItem) string { return i.URL }},
	{"engine", func(i SummaryItem) string { return i.Engine }},
	{"registration_path", func(i SummaryItem) string { return i.RegistrationPath }},
	{"invite_path", func(i SummaryItem) string { return i.InvitePath }},
}

// DiffSummary は前回サマリーと今回サマリーの差分を計算する。
func DiffSummary(prev, cur Summary) Diff {
	diff := Diff{Updated: make(map[string][]FieldChange)}

	for domain := range cur.Items {
		if _, ok := prev.Items[domain]; !ok {
			diff.Added = append(diff.Added, domain)
		}
	}
	for domain := range prev.Items {
		if _, ok := cur.Items[domain]; !ok {
			diff.Removed = append(diff.Removed, domain)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)

	for domain, after := range cur.Items {
		before, ok := prev.Items[domain]
		if !ok {
			continue
		}
		var changes []FieldChange
		for _, f := range summaryDiffFields {
			a, b := f.get(before), f.get(after)
			if a != b {
				changes = append(changes, FieldChange{Field: f.name, Before: a, After: b})
			}
		}
		if len(changes) > 0 {
			diff.Updated[domain] = changes
		}
	}
	return diff
}

// FormatDiffLines は差分を通知用の行に整形する。
// 行数がmaxDiffLinesを超える場合は切り詰めて残件数を付記する。
func FormatDiffLines(diff Diff, cur Summary) []string {
	label := func(domain string) string {
		item := cur.Items[domain]
		name := firstNonEmpty(item.Name, domain)
		if item.URL != "" {
			return fmt.Sprintf("%s (%s) %s", name, domain, item.URL)
		}
		return fmt.Sprintf("%s (%s)", name, domain)
	}

	var lines []string
	for _, d := range diff.Added {
		lines = append(lines, "新增："+label(d))
	}
	for _, d := range diff.Removed {
		lines = append(lines, "删除："+d)
	}

	updatedDomains := make([]string, 0, len(diff.Updated))
	for d := range diff.Updated {
		updatedDomains = append(updatedDomains, d)
	}
	sort.Strings(updatedDomains)
	for _, d := range updatedDomains {
		changes := diff.Updated[d]
		shown := changes
		if len(shown) > 3 {
			shown = shown[:3]
		}
		fields := make([]string, 0, len(shown))
		for _, c := range shown {
			fields = append(fields, fmt.Sprintf("%s:%s→%s", c.Field, orDash(c.Before), orDash(c.After)))
		}
		more := ""
		if len(changes) > 3 {
			more = "…"
		}
		lines = append(lines, fmt.Sprintf("修改：%s (%s%s)", d, strings.Join(fields, ", "), more))
	}

	if len(lines) <= maxDiffLines {
		return lines
	}
	head := lines[:maxDiffLines]
	head = append(head, fmt.Sprintf("…以及其它 %d 项变更", len(lines)-maxDiffLines))
	return head
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
