// Package search queries a web-search backend and formats the hits into
// prompt text plus citation entries.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/polyglot-dispatch/internal/config"
)

const (
	ProviderTavily  = "tavily"
	ProviderBrave   = "brave"
	ProviderSearxng = "searxng"
	ProviderNone    = "none"
)

// DefaultTimeout bounds one search call.
const DefaultTimeout = 15 * time.Second

// Provider defines the interface for web search backends.
type Provider interface {
	Search(ctx context.Context, query string, opts Options) ([]Hit, error)
}

// Hit represents a single search result.
type Hit struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// Options controls search behavior across providers.
type Options struct {
	Limit       int
	SearchDepth string
}

// NewProvider creates a search backend from configuration. A nil provider
// with a nil error means search is disabled.
func NewProvider(cfg config.SearchConfig, httpClient *http.Client) (Provider, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderTavily:
		p, err = NewTavilyProvider(cfg.APIKey, cfg.APIURL, httpClient)
	case ProviderBrave:
		p, err = NewBraveProvider(cfg.APIKey, cfg.APIURL, httpClient)
	case ProviderSearxng:
		p, err = NewSearxngProvider(cfg.APIURL, httpClient)
	case ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func statusError(backend string, resp *http.Response) error {
	return fmt.Errorf("%s request failed with status %d", backend, resp.StatusCode)
}

func okStatus(resp *http.Response) bool {
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}
