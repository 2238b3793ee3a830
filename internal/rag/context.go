package rag

import (
	"fmt"
	"strings"

	"github.com/theomilll/atv-tinoco/internal/search"
)

// NoContextSentinel is the context string used when retrieval found
// nothing, so the model knows the knowledge base had no answer.
const NoContextSentinel = "No relevant documents found."

// BuildContext renders retrieved chunks into the prompt context block.
// Each chunk is labeled with its 1-based position and document title.
func BuildContext(results []search.Result) string {
	if len(results) == 0 {
		return NoContextSentinel
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Document %d: %s]\n%s", i+1, r.DocumentTitle, r.Chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}
