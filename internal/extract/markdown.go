package extract

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// markdownToText renders markdown to HTML with goldmark, then strips the
// markup. Rendering first means link syntax, emphasis markers and code
// fences don't leak into the indexed text.
func markdownToText(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		// Malformed markdown still reads fine as plain text.
		return md
	}
	return StripHTML(buf.String())
}
