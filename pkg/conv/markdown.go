package conv

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/inbucket/html2text"
	"github.com/microcosm-cc/bluemonday"
)

var (
	extensions = parser.CommonExtensions | parser.NoEmptyLineBeforeBlock
	htmlFlags  = html.CommonFlags | html.HrefTargetBlank
	webPolicy  = bluemonday.UGCPolicy()
)

// MarkdownToHTML renders a model answer's markdown into sanitized HTML
// suitable for embedding in a web client.
func MarkdownToHTML(md []byte) string {
	p := parser.NewWithExtensions(extensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})
	unsafeHTML := markdown.Render(p.Parse(md), renderer)

	return string(webPolicy.SanitizeBytes(unsafeHTML))
}

// StripHTML flattens markup in retrieved source text to plain text so token
// counting and prompting see what the model will actually read.
func StripHTML(s string) string {
	text, err := html2text.FromString(s)
	if err != nil {
		// Fall back to tag stripping only
		return bluemonday.StrictPolicy().Sanitize(s)
	}
	return text
}
