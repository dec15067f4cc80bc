package agent

import (
	"fmt"
	"strings"
	"unicode"

	"drawbridge/internal/sanitize"
)

const noContextPlaceholder = "No prior conversation context."

// FormatContext renders prior turns into the text block prompt templates
// expect. Only the most recent window turns are kept, and every turn is
// screened for instruction-like content before it reaches a prompt. The
// result is never empty: with no usable history it returns a fixed
// placeholder so templates render the same shape either way.
func FormatContext(history []HistoryMessage, window int, s *sanitize.Sanitizer) string {
	if len(history) == 0 {
		return noContextPlaceholder
	}
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	var b strings.Builder
	b.WriteString("Prior conversation context:\n")
	for _, m := range history {
		content, _ := s.RedactHistory(m.Content)
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(m.Role), content)
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}
