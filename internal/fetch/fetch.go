// Package fetch downloads a user-supplied URL and reduces it to readable
// text for the prompt.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-dispatch/internal/pkg/safehttp"
)

const (
	DefaultMaxChars = 10000
	DefaultTimeout  = 15 * time.Second

	maxBodyBytes = 5 << 20
	userAgent    = "polyglot-dispatch/1.0 (+url-fetch)"
)

// Result is the outcome of one fetch. Content is empty unless Success.
type Result struct {
	URL     string
	Title   string
	Content string
	Success bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the SSRF-guarded default client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxChars sets the content ceiling in characters.
func WithMaxChars(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithAllowPrivate permits fetching private and loopback addresses.
func WithAllowPrivate(allow bool) Option {
	return func(c *Client) {
		c.allowPrivate = allow
	}
}

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client fetches URLs. Failures are reported through Result.Success and
// never as errors.
type Client struct {
	httpClient   *http.Client
	maxChars     int
	timeout      time.Duration
	allowPrivate bool
	logger       *slog.Logger
}

// New creates a fetch client.
func New(opts ...Option) *Client {
	c := &Client{
		maxChars: DefaultMaxChars,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: otelhttp.NewTransport(safehttp.NewTransport(c.allowPrivate)),
		}
	}
	return c
}

// Fetch downloads rawURL and returns its readable text cut to the character
// ceiling.
func (c *Client) Fetch(ctx context.Context, rawURL string) Result {
	res := Result{URL: rawURL}
	title, content, err := c.fetch(ctx, rawURL)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("url fetch unavailable, continuing without url content",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
		}
		return res
	}
	content = truncateChars(content, c.maxChars)
	if strings.TrimSpace(content) == "" {
		return res
	}
	res.Title = title
	res.Content = content
	res.Success = true
	return res
}

func (c *Client) fetch(ctx context.Context, rawURL string) (string, string, error) {
	parsed, err := safehttp.ValidateURL(rawURL)
	if err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", "", fmt.Errorf("fetch failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		title, content := extractContent(data, parsed.String())
		return title, content, nil
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json":
		return "", normalizeContent(string(data)), nil
	default:
		return "", "", fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func truncateChars(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// ExtractURLs returns the distinct http(s) URLs in text, in order of first
// appearance, with trailing punctuation removed.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var urls []string
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?)]}")
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		urls = append(urls, m)
	}
	return urls
}
