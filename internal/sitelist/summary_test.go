package sitelist

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/ptwatch/internal/model"
)

func summaryOf(t *testing.T, sites []model.Site) Summary {
	t.Helper()
	return BuildSummary(sites, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestBuildSummary(t *testing.T) {
	id := 2
	sites := []model.Site{
		{ID: &id, Name: "Example", Domain: "example.com", URL: "https://example.com/", IsActive: true},
		{Name: "", Domain: "manual.org", URL: "https://manual.org/", IsActive: true},
	}

	summary := summaryOf(t, sites)
	if len(summary.Items) != 2 {
		t.Fatalf("サマリー項目数が期待と異なります: %d", len(summary.Items))
	}
	if summary.Items["example.com"].Source != "moviepilot" {
		t.Errorf("MoviePilot由来サイトのsourceが期待と異なります: %q", summary.Items["example.com"].Source)
	}
	manual := summary.Items["manual.org"]
	if manual.Source != "manual" || manual.Name != "manual.org" {
		t.Errorf("手動サイトの項目が期待と異なります: %+v", manual)
	}
	if manual.Engine != "nexusphp" || manual.RegistrationPath != "signup.php" {
		t.Errorf("既定値の導出が期待と異なります: %+v", manual)
	}
}

func TestDiffSummary(t *testing.T) {
	prev := summaryOf(t, []model.Site{
		{Name: "A", Domain: "a.example.com", URL: "https://a.example.com/", IsActive: true},
		{Name: "B", Domain: "b.example.com", URL: "https://b.example.com/", IsActive: true},
	})
	cur := summaryOf(t, []model.Site{
		{Name: "A改", Domain: "a.example.com", URL: "https://a.example.com/", IsActive: true},
		{Name: "C", Domain: "c.example.com", URL: "https://c.example.com/", IsActive: true},
	})

	diff := DiffSummary(prev, cur)
	if diff.Empty() {
		t.Fatal("差分が検出されていません")
	}
	if len(diff.Added) != 1 || diff.Added[0] != "c.example.com" {
		t.Errorf("追加ドメインが期待と異なります: %v", diff.Added)
	}
	if len(diff.Removed) != 1 || diff.Removed[0] != "b.example.com" {
		t.Errorf("削除ドメインが期待と異なります: %v", diff.Removed)
	}
	changes := diff.Updated["a.example.com"]
	if len(changes) != 1 || changes[0].Field != "name" || changes[0].After != "A改" {
		t.Errorf("変更内容が期待と異なります: %+v", changes)
	}
}

func TestDiffSummary_NoChange(t *testing.T) {
	sites := []model.Site{
		{Name: "A", Domain: "a.example.com", URL: "https://a.example.com/", IsActive: true},
	}
	diff := DiffSummary(summaryOf(t, sites), summaryOf(t, sites))
	if !diff.Empty() {
		t.Errorf("同一一覧で差分が検出されました: %+v", diff)
	}
}

func TestFormatDiffLines(t *testing.T) {
	prev := summaryOf(t, []model.Site{
		{Name: "Old", Domain: "upd.example.com", URL: "https://upd.example.com/", IsActive: true},
		{Name: "Gone", Domain: "gone.example.com", URL: "https://gone.example.com/", IsActive: true},
	})
	cur := summaryOf(t, []model.Site{
		{Name: "New", Domain: "upd.example.com", URL: "https://upd.example.com/", IsActive: true},
		{Name: "Fresh", Domain: "new.example.com", URL: "https://new.example.com/", IsActive: true},
	})

	lines := FormatDiffLines(DiffSummary(prev, cur), cur)
	if len(lines) != 3 {
		t.Fatalf("行数が期待と異なります: %v", lines)
	}
	if !strings.HasPrefix(lines[0], "新增：Fresh (new.example.com)") {
		t.Errorf("追加行の形式が期待と異なります: %q", lines[0])
	}
	if lines[1] != "删除：gone.example.com" {
		t.Errorf("削除行の形式が期待と異なります: %q", lines[1])
	}
	if !strings.Contains(lines[2], "修改：upd.example.com") || !strings.Contains(lines[2], "name:Old→New") {
		t.Errorf("変更行の形式が期待と異なります: %q", lines[2])
	}
}

func TestFormatDiffLines_Truncated(t *testing.T) {
	var curSites []model.Site
	for _, d := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n"} {
		curSites = append(curSites, model.Site{
			Name: d, Domain: d + ".example.com", URL: "https://" + d + ".example.com/", IsActive: true,
		})
	}
	cur := summaryOf(t, curSites)

	lines := FormatDiffLines(DiffSummary(Summary{Version: summaryVersion, Items: map[string]SummaryItem{}}, cur), cur)
	if len(lines) != maxDiffLines+1 {
		t.Fatalf("切り詰め後の行数が期待と異なります: %d", len(lines))
	}
	last := lines[len(lines)-1]
	if !strings.Contains(last, "以及其它 2 项变更") {
		t.Errorf("残件数の付記が期待と異なります: %q", last)
	}
}
