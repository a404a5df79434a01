package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はコレクターから受け取ったテキストからマークアップを除去する。
// 掲載のタイトルや所在地はHTMLとして表示しないため、タグはすべて取り除く。
type TextSanitizer interface {
	// Clean はタグを除去し、文字参照を復元し、連続する空白を1つにまとめたテキストを返す。
	Clean(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを使ったTextSanitizerの実装。
// bluemonday.Policyは並行利用に対して安全。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *textSanitizer) Clean(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	// StrictPolicyは残したテキストをエスケープするため、平文に戻す
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
