// Package budget fits free-text context and retrieved chunks into token budgets.
package budget

import (
	"unicode/utf8"

	"github.com/tjfontaine/polyglot-dispatch/internal/tokens"
)

// TruncationMarker is appended to context that was cut to fit a budget.
const TruncationMarker = "..."

// Trim returns text unchanged when it fits maxTokens. Otherwise it keeps the
// proportional leading part (len * maxTokens / estimated) and appends
// TruncationMarker. The earliest context is assumed most relevant.
//
// The kept prefix is clamped so the result itself fits maxTokens, which makes
// Trim idempotent for a fixed budget.
func Trim(text string, maxTokens int) string {
	estimated := tokens.EstimateTokens(text)
	if estimated <= maxTokens {
		return text
	}
	if maxTokens <= 0 {
		return ""
	}

	keep := len(text) * maxTokens / estimated
	if ceiling := maxTokens*tokens.CharsPerToken - len(TruncationMarker); keep > ceiling {
		keep = ceiling
	}
	if keep < 0 {
		keep = 0
	}
	// Never split a multi-byte rune.
	for keep > 0 && !utf8.RuneStart(text[keep]) {
		keep--
	}
	return text[:keep] + TruncationMarker
}

// TruncateBytes cuts text to at most limit bytes on a rune boundary and
// appends marker when anything was removed.
func TruncateBytes(text string, limit int, marker string) string {
	if len(text) <= limit {
		return text
	}
	keep := limit
	for keep > 0 && !utf8.RuneStart(text[keep]) {
		keep--
	}
	return text[:keep] + marker
}
