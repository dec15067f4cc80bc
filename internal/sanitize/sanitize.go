// Package sanitize gates raw user input and replayed conversation history
// before either reaches a model prompt.
package sanitize

import (
	"regexp"

	"go.uber.org/zap"
)

// RedactionMarker replaces the content of a historical message that matches
// the history pattern set when it is re-injected into a new prompt.
const RedactionMarker = "[redacted: flagged content]"

// Injection scaffolding in fresh input. A match flags the whole request; the
// text is never rewritten, the caller routes straight to refusal.
var inputPatterns = compileAll([]string{
	`ignore (?:all |any )?(?:previous|prior|above|earlier) (?:instructions|prompts|directions)`,
	`disregard (?:all |any )?(?:previous|prior|above|earlier|your) (?:instructions|prompts|rules)`,
	`forget (?:all |everything |your )?(?:previous |prior )?(?:instructions|training|rules)`,
	`you are (?:now|no longer) `,
	`act as (?:if you|though you|a different)`,
	`pretend (?:to be|you are|you're)`,
	`jailbreak`,
	`\bdan mode\b`,
	`developer mode`,
	`(?:repeat|reveal|show|print|output) (?:me )?(?:your |the )?system prompt`,
	`(?:your|the) (?:system|initial|original) (?:prompt|instructions?) verbatim`,
	`override (?:your|the) (?:instructions|rules|guidelines)`,
})

// Stored history gets its own, separately compiled set: text that predates
// sanitization (or slipped through an earlier turn's check) must not re-inject
// instructions into a later prompt. A match redacts that one message only.
var historyPatterns = compileAll([]string{
	`ignore (?:all |any )?(?:previous|prior|above|earlier) (?:instructions|prompts|directions)`,
	`disregard (?:all |any )?(?:previous|prior|above|earlier|your) (?:instructions|prompts|rules)`,
	`forget (?:all |everything |your )?(?:previous |prior )?(?:instructions|training|rules)`,
	`you are (?:now|no longer) `,
	`pretend (?:to be|you are|you're)`,
	`jailbreak`,
	`\bdan mode\b`,
	`developer mode`,
	`system prompt`,
	`new instructions:`,
})

func compileAll(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Sanitizer screens task text and history content. Pattern sets are fixed at
// compile time; only the length bound is configurable.
type Sanitizer struct {
	maxLen int
	logger *zap.Logger
}

// New returns a Sanitizer that truncates input longer than maxLen runes.
func New(maxLen int, logger *zap.Logger) *Sanitizer {
	return &Sanitizer{maxLen: maxLen, logger: logger}
}

// Scan truncates over-long input to the configured maximum and reports
// whether the text matches any injection pattern. Flagging is a hard signal:
// the offending text is returned as-is (post truncation) and the caller is
// expected to refuse the whole request.
func (s *Sanitizer) Scan(text string) (string, bool) {
	if runes := []rune(text); len(runes) > s.maxLen {
		text = string(runes[:s.maxLen])
		s.logger.Warn("Input truncated to maximum length", zap.Int("max_len", s.maxLen))
	}
	for _, p := range inputPatterns {
		if p.MatchString(text) {
			s.logger.Warn("Input flagged by injection pattern", zap.String("pattern", p.String()))
			return text, true
		}
	}
	return text, false
}

// RedactHistory checks a single stored message's content against the history
// pattern set. On a match the fixed marker is returned instead of the
// content; the request as a whole is not flagged.
func (s *Sanitizer) RedactHistory(content string) (string, bool) {
	for _, p := range historyPatterns {
		if p.MatchString(content) {
			s.logger.Info("Historical message redacted", zap.String("pattern", p.String()))
			return RedactionMarker, true
		}
	}
	return content, false
}
