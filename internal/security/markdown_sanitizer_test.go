package security

import (
	"strings"
	"testing"
)

// TestSanitize_KeepsMarkdown はMarkdown記法がそのまま残ることを検証する。
func TestSanitize_KeepsMarkdown(t *testing.T) {
	sanitizer := NewMarkdownSanitizer()

	tests := []struct {
		name  string
		input string
	}{
		{"見出し", "## Tulsi (Holy Basil)"},
		{"リスト", "- Immunity booster\n- Respiratory health"},
		{"強調", "**Neem** is *antibacterial*"},
		{"引用", "> Traditional use in Ayurveda"},
		{"アポストロフィ", "Don't exceed the recommended dose"},
		{"ダブルクォート", `Known as "the village pharmacy"`},
		{"アンパサンド", "Turmeric & Ginger"},
		{"コードスパン", "`curcumin`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.input {
				t.Errorf("Sanitize(%q) = %q, want unchanged", tt.input, got)
			}
		})
	}
}

// TestSanitize_StripsHTML は生のHTMLタグが除去されることを検証する。
func TestSanitize_StripsHTML(t *testing.T) {
	sanitizer := NewMarkdownSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
		wantKeep   []string
	}{
		{
			name:       "scriptタグは内容ごと除去",
			input:      "Aloe Vera<script>alert('xss')</script>",
			wantAbsent: []string{"<script", "alert"},
			wantKeep:   []string{"Aloe Vera"},
		},
		{
			name:       "styleタグは内容ごと除去",
			input:      "<style>body{display:none}</style>Mint",
			wantAbsent: []string{"<style", "display"},
			wantKeep:   []string{"Mint"},
		},
		{
			name:       "インラインタグは中身のみ残す",
			input:      "<b>Moringa</b> leaves",
			wantAbsent: []string{"<b>", "</b>"},
			wantKeep:   []string{"Moringa leaves"},
		},
		{
			name:       "イベント属性付きimg",
			input:      `<img src=x onerror="alert(1)">Neem`,
			wantAbsent: []string{"<img", "onerror"},
			wantKeep:   []string{"Neem"},
		},
		{
			name:       "iframe",
			input:      `<iframe src="https://evil.example.com"></iframe>Tulsi`,
			wantAbsent: []string{"<iframe", "evil.example.com"},
			wantKeep:   []string{"Tulsi"},
		},
		{
			name:       "javascriptリンク",
			input:      `<a href="javascript:alert(1)">click</a>`,
			wantAbsent: []string{"<a", "javascript:"},
			wantKeep:   []string{"click"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, absent)
				}
			}
			for _, keep := range tt.wantKeep {
				if !strings.Contains(got, keep) {
					t.Errorf("Sanitize(%q) = %q, should contain %q", tt.input, got, keep)
				}
			}
		})
	}
}

// TestSanitize_EscapedTagsStayEscaped はエスケープ済みのタグがタグに戻らないことを検証する。
func TestSanitize_EscapedTagsStayEscaped(t *testing.T) {
	sanitizer := NewMarkdownSanitizer()

	for _, input := range []string{"&lt;script&gt;", "&amp;lt;script&amp;gt;"} {
		got := sanitizer.Sanitize(input)
		if strings.Contains(got, "<script") {
			t.Errorf("Sanitize(%q) = %q, must not produce a raw tag", input, got)
		}
	}
}

// TestSanitize_EmptyInput は空文字列の入力に空文字列を返すことを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	if got := NewMarkdownSanitizer().Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
}

// TestSanitize_Idempotent は2回適用しても結果が変わらないことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewMarkdownSanitizer()
	input := "## Neem\n<b>bold</b> & <script>x</script> it's"

	once := sanitizer.Sanitize(input)
	twice := sanitizer.Sanitize(once)
	if once != twice {
		t.Errorf("not idempotent: %q -> %q", once, twice)
	}
}

// TestMarkdownSanitizerInterface はインターフェースを正しく実装していることを検証する。
func TestMarkdownSanitizerInterface(t *testing.T) {
	var _ MarkdownSanitizerService = NewMarkdownSanitizer()
}
