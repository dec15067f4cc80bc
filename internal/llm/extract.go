package llm

import (
	"fmt"
	"strings"
)

// ExtractText reduces a heterogeneous model response content shape to plain
// text. Every place a response must become a string goes through here:
//   - a string returns as-is, trimmed
//   - a slice concatenates each part's own text: string parts verbatim,
//     maps via their "text" field, falling back to "content"
//   - a single map extracts "text", falling back to its string form
//   - anything else is stringified
func ExtractText(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(c)
	case []any:
		var b strings.Builder
		for _, item := range c {
			switch part := item.(type) {
			case string:
				b.WriteString(part)
			case map[string]any:
				if text, ok := part["text"].(string); ok {
					b.WriteString(text)
				} else if inner, ok := part["content"]; ok {
					b.WriteString(fmt.Sprint(inner))
				}
			}
		}
		return strings.TrimSpace(b.String())
	case map[string]any:
		if text, ok := c["text"].(string); ok {
			return strings.TrimSpace(text)
		}
		return strings.TrimSpace(fmt.Sprint(c))
	default:
		return strings.TrimSpace(fmt.Sprint(c))
	}
}
