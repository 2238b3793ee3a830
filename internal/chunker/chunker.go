// Package chunker splits cleaned document text into overlapping segments
// sized for the embedding and LLM context windows.
package chunker

import (
	"strings"
	"unicode"
)

// Defaults match the sizes the ingestion pipeline uses.
const (
	DefaultChunkSize = 512 // tokens
	DefaultOverlap   = 50  // tokens
	charsPerToken    = 4   // rough character budget per token
)

// sentenceBoundaries are searched, in order, when truncating a window so
// chunks end on sentence boundaries when possible.
var sentenceBoundaries = []string{". ", ".\n", "? ", "!\n", "! ", "?\n"}

// Splitter cuts text into overlapping sliding-window chunks. Identical input
// and parameters always produce identical boundaries.
type Splitter struct {
	chunkSize    int // tokens
	overlap      int // tokens
	charLimit    int
	overlapChars int
}

// NewSplitter creates a splitter with the given token sizes. Non-positive
// values fall back to the defaults.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	return &Splitter{
		chunkSize:    chunkSize,
		overlap:      overlap,
		charLimit:    chunkSize * charsPerToken,
		overlapChars: overlap * charsPerToken,
	}
}

// ChunkSize returns the configured window size in tokens.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap in tokens.
func (s *Splitter) Overlap() int { return s.overlap }

// Split divides text into overlapping chunks. Empty or whitespace-only input
// yields no chunks. Text that fits one window is returned as-is after
// normalization.
func (s *Splitter) Split(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}

	if len(text) <= s.charLimit {
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + s.charLimit

		if end < len(text) {
			// Look for the nearest sentence end inside the last 20% of the
			// window so chunks break at sentence boundaries when possible.
			window := text[start:end]
			searchFrom := len(window) - s.charLimit/5
			if searchFrom < 0 {
				searchFrom = 0
			}
			for _, boundary := range sentenceBoundaries {
				if idx := strings.LastIndex(window[searchFrom:], boundary); idx >= 0 {
					end = start + searchFrom + idx + len(boundary)
					break
				}
			}
		} else {
			end = len(text)
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - s.overlapChars
		if next <= start {
			// A sentence boundary can shorten the window so much that the
			// overlap would rewind or stall it; skip the overlap and
			// continue from the end of this chunk.
			start = end
			continue
		}
		start = next
		// Stop once the remainder would be pure overlap.
		if start >= len(text)-s.overlapChars {
			break
		}
	}

	return chunks
}

// Normalize collapses whitespace runs to single spaces, strips control
// characters, and trims the result.
func Normalize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	inSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			inSpace = true
		case unicode.IsControl(r):
			// dropped
		default:
			if inSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			inSpace = false
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
