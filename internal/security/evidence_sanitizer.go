// Package security はアプリケーションのセキュリティ機能を提供する。
//
// EvidenceSanitizerService は外部サイトから取得したHTML断片を
// プレーンテキストに変換する。判定根拠（マッチした文言周辺のスニペット）は
// 信頼できないHTML由来であり、そのままAPI応答や通知に載せると
// XSSやマークアップ混入の危険があるため、タグを全て除去して保存する。
package security

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSnippetLength は根拠スニペットの最大長（rune数）。
const maxSnippetLength = 300

// EvidenceSanitizerService は判定根拠テキストのサニタイズ機能のインターフェースを定義する。
type EvidenceSanitizerService interface {
	// Sanitize はHTML断片からタグを全て除去し、空白を正規化したテキストを返す。
	// maxSnippetLengthを超える場合は打ち切る。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// evidenceSanitizer はEvidenceSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type evidenceSanitizer struct {
	policy *bluemonday.Policy
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NewEvidenceSanitizer はEvidenceSanitizerServiceの新しいインスタンスを生成する。
func NewEvidenceSanitizer() *evidenceSanitizer {
	return &evidenceSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTML断片からタグを全て除去し、空白を正規化したテキストを返す。
func (s *evidenceSanitizer) Sanitize(rawHTML string) string {
	text := s.policy.Sanitize(rawHTML)
	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))

	runes := []rune(text)
	if len(runes) > maxSnippetLength {
		return string(runes[:maxSnippetLength]) + "…"
	}
	return text
}
