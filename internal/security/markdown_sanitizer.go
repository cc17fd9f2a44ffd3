package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MarkdownSanitizerService はLLM応答などのMarkdownテキストから生のHTMLを除去する機能のインターフェース。
// クライアント側でMarkdownをレンダリングする前提で、HTMLタグは一切通過させない。
type MarkdownSanitizerService interface {
	// Sanitize はMarkdownテキストからHTMLタグを除去して返す。
	// script/styleは内容ごと除去する。'<' はエスケープしたまま残す。
	// 空文字列の入力には空文字列を返す。
	Sanitize(markdown string) string
}

// markdownUnescaper はbluemondayがエスケープした文字のうち、
// タグを構成し得ないものだけを元に戻す。
// 単一パスで置換するため、"&amp;lt;" が "<" まで戻ることはない。
var markdownUnescaper = strings.NewReplacer(
	"&#39;", "'",
	"&#34;", `"`,
	"&quot;", `"`,
	"&gt;", ">",
	"&amp;", "&",
)

// markdownSanitizer はMarkdownSanitizerServiceの実装。
type markdownSanitizer struct {
	policy *bluemonday.Policy
}

// NewMarkdownSanitizer はMarkdownSanitizerServiceの新しいインスタンスを生成する。
func NewMarkdownSanitizer() *markdownSanitizer {
	return &markdownSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はMarkdownテキストからHTMLタグを除去する。
func (s *markdownSanitizer) Sanitize(markdown string) string {
	if markdown == "" {
		return ""
	}
	return markdownUnescaper.Replace(s.policy.Sanitize(markdown))
}

// compile-time interface check
var _ MarkdownSanitizerService = (*markdownSanitizer)(nil)
