package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// HTMLSanitizer は利用者が入力したHTMLを表示用に無害化する。
type HTMLSanitizer interface {
	// Sanitize は許可リストにないタグと属性を除去したHTMLを返す。同一入力には同一出力を返す。
	Sanitize(rawHTML string) string
}

// descriptionSanitizer は学習セッション説明文用のHTMLSanitizer。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer は学習セッション説明文用のサニタイザーを生成する。
// ポリシーの内容:
//   - 許可タグ: h3, h4, p, br, ul, ol, li, blockquote, pre, code, strong, em, a, img
//   - aのhrefとimgのsrcはhttpsのみ
//   - aにはtarget="_blank"とrel="noopener noreferrer"を付与
//   - script, iframe, styleとon*属性は許可リストにないため除去される
func NewDescriptionSanitizer() HTMLSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h3", "h4", "p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &descriptionSanitizer{policy: p}
}

// Sanitize はHTMLを無害化し、前後の空白を取り除く。
func (s *descriptionSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}
