// Package extract converts raw document bytes into plain text.
//
// Extraction is best-effort: unsupported media types and unreadable content
// yield an empty string, never an error. The pipeline treats empty text as
// "nothing usable" and fails the document there, not here.
package extract

import (
	"strings"
	"unicode/utf8"
)

// Text extracts plain text from raw content based on its declared media type.
// Returns "" for unsupported or unreadable content.
func Text(content []byte, mediaType string) string {
	// Strip any charset suffix ("text/html; charset=utf-8").
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	switch mediaType {
	case "text/plain", "":
		return decodeText(content)
	case "text/html", "application/xhtml+xml":
		return StripHTML(decodeText(content))
	case "text/markdown", "text/x-markdown":
		return markdownToText(decodeText(content))
	default:
		return ""
	}
}

// decodeText interprets bytes as UTF-8, replacing invalid sequences and
// dropping NUL bytes rather than failing on malformed encodings.
func decodeText(content []byte) string {
	if len(content) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(content))
	for len(content) > 0 {
		r, size := utf8.DecodeRune(content)
		if r == utf8.RuneError && size == 1 {
			// Invalid byte: skip it instead of raising.
			content = content[1:]
			continue
		}
		if r != 0 {
			sb.WriteRune(r)
		}
		content = content[size:]
	}
	return sb.String()
}
