package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SearxngProvider implements the SearXNG JSON API.
type SearxngProvider struct {
	apiURL string
	client *http.Client
}

// NewSearxngProvider creates a SearXNG provider.
func NewSearxngProvider(apiURL string, client *http.Client) (*SearxngProvider, error) {
	if strings.TrimSpace(apiURL) == "" {
		return nil, fmt.Errorf("searxng api url is required")
	}
	return &SearxngProvider{apiURL: strings.TrimRight(apiURL, "/"), client: client}, nil
}

type searxngResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search executes a query against a SearXNG instance. SearXNG has no result
// count parameter so the hit list is cut client-side.
func (p *SearxngProvider) Search(ctx context.Context, query string, opts Options) ([]Hit, error) {
	endpoint, err := url.Parse(p.apiURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("parse searxng url: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	q.Set("format", "json")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create searxng request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request failed: %w", err)
	}
	defer resp.Body.Close()

	if !okStatus(resp) {
		return nil, statusError("searxng", resp)
	}

	var decoded searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode searxng response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		if opts.Limit > 0 && len(hits) == opts.Limit {
			break
		}
		hits = append(hits, Hit{
			Title:   item.Title,
			URL:     item.URL,
			Content: strings.TrimSpace(item.Content),
			Score:   item.Score,
		})
	}
	return hits, nil
}
