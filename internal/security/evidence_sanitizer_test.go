package security

import (
	"strings"
	"testing"
)

func TestSanitize_RemovesAllTags(t *testing.T) {
	sanitizer := NewEvidenceSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "タグが除去される",
			input: "<td class=\"text\">当前可用：<b>5</b>个邀请名额</td>",
			want:  "当前可用：5个邀请名额",
		},
		{
			name:  "scriptタグと中身が除去される",
			input: `<script>alert("x")</script>注册已关闭`,
			want:  "注册已关闭",
		},
		{
			name:  "空文字列はそのまま",
			input: "",
			want:  "",
		},
		{
			name:  "タグなしテキストはそのまま",
			input: "邀请 [发送]: 3(1)",
			want:  "邀请 [发送]: 3(1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_NormalizesWhitespace(t *testing.T) {
	sanitizer := NewEvidenceSanitizer()

	input := "<div>\n  注册\t已经   关闭\n</div>"
	want := "注册 已经 关闭"
	if got := sanitizer.Sanitize(input); got != want {
		t.Errorf("Sanitize(%q) = %q, want %q", input, got, want)
	}
}

func TestSanitize_TruncatesLongSnippet(t *testing.T) {
	sanitizer := NewEvidenceSanitizer()

	input := strings.Repeat("邀", 500)
	got := sanitizer.Sanitize(input)
	runes := []rune(got)
	if len(runes) != maxSnippetLength+1 {
		t.Errorf("打ち切り後の長さが不正: got %d, want %d", len(runes), maxSnippetLength+1)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("打ち切り後は省略記号で終わるべき")
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewEvidenceSanitizer()

	input := "<b>仅限邀请注册</b>  <i>invite only</i>"
	once := sanitizer.Sanitize(input)
	twice := sanitizer.Sanitize(once)
	if once != twice {
		t.Errorf("サニタイズが冪等でない: once=%q twice=%q", once, twice)
	}
}
