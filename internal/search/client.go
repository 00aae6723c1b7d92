package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tjfontaine/polyglot-dispatch/internal/citation"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

const (
	DefaultResults = 5
	// SnippetRunes caps each hit's text in the formatted block.
	SnippetRunes = 320
)

// Result is the prompt-ready outcome of one search.
type Result struct {
	FormattedText string
	Citations     []domain.CitationEntry
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSearchDepth forwards a depth hint to backends that support one.
func WithSearchDepth(depth string) Option {
	return func(c *Client) {
		c.depth = depth
	}
}

// WithTimeout sets the ceiling for one search. Non-positive values keep
// DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client wraps a Provider and degrades every failure to "no web context".
type Client struct {
	provider Provider
	depth    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates a search client. A nil provider disables search.
func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a backend is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.provider != nil
}

// Search runs query and returns nil when search is disabled, fails, or finds
// nothing.
func (c *Client) Search(ctx context.Context, query string, n int) *Result {
	if !c.Enabled() || strings.TrimSpace(query) == "" {
		return nil
	}
	if n <= 0 {
		n = DefaultResults
	}

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	hits, err := c.provider.Search(sctx, query, Options{Limit: n, SearchDepth: c.depth})
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("web search unavailable, continuing without web context",
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	entries := make([]domain.CitationEntry, 0, len(hits))
	for _, h := range hits {
		entries = append(entries, domain.CitationEntry{
			Title:   strings.TrimSpace(h.Title),
			URL:     strings.TrimSpace(h.URL),
			Snippet: truncateRunes(collapse(h.Content), SnippetRunes),
		})
	}
	entries = citation.Dedupe(entries)
	if len(entries) > n {
		entries = entries[:n]
	}
	if len(entries) == 0 {
		return nil
	}

	return &Result{
		FormattedText: Format(query, entries),
		Citations:     entries,
	}
}

// Format renders entries as a numbered block for the prompt body.
func Format(query string, entries []domain.CitationEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for %q:", query)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n\n[%d] %s\nURL: %s", e.Index, e.Title, e.URL)
		if e.Snippet != "" {
			b.WriteString("\n")
			b.WriteString(e.Snippet)
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
