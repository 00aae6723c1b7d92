// Package citation deduplicates web-search references and renders them as a
// trailing block on one-shot answers.
package citation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// Heading opens the reference block appended by Attach.
const Heading = "Sources Referenced:"

var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid",
}

// NormalizeURL returns a comparison key for rawURL: lower-cased scheme and
// host without "www.", no fragment, no tracking parameters and no trailing
// slash.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	parsed.Fragment = ""

	if parsed.RawQuery != "" {
		q := parsed.Query()
		for _, param := range trackingParams {
			q.Del(param)
		}
		parsed.RawQuery = q.Encode()
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	return parsed.String(), nil
}

// Dedupe drops entries whose normalized URL was already seen, keeping the
// first occurrence, and renumbers the survivors from 1. Entries without a
// URL are dropped.
func Dedupe(entries []domain.CitationEntry) []domain.CitationEntry {
	seen := make(map[string]int, len(entries))
	out := make([]domain.CitationEntry, 0, len(entries))

	for _, e := range entries {
		if strings.TrimSpace(e.URL) == "" {
			continue
		}
		key, err := NormalizeURL(e.URL)
		if err != nil || key == "" {
			key = e.URL
		}
		if idx, ok := seen[key]; ok {
			if out[idx].Title == "" {
				out[idx].Title = e.Title
			}
			if out[idx].Snippet == "" {
				out[idx].Snippet = e.Snippet
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, e)
	}

	for i := range out {
		out[i].Index = i + 1
	}
	return out
}

// Format renders entries as "[index] title (url)" lines under Heading.
func Format(entries []domain.CitationEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(Heading)
	for _, e := range entries {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = hostOf(e.URL)
		}
		fmt.Fprintf(&b, "\n[%d] %s (%s)", e.Index, title, e.URL)
	}
	return b.String()
}

// Attach appends the reference block to text. Text is returned unchanged
// when there are no entries.
func Attach(text string, entries []domain.CitationEntry) string {
	block := Format(entries)
	if block == "" {
		return text
	}
	return strings.TrimRight(text, "\n") + "\n\n" + block
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return strings.TrimPrefix(u.Host, "www.")
	}
	return rawURL
}
