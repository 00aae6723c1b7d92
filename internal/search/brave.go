package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultBraveURL = "https://api.search.brave.com/res/v1/web/search"

// BraveProvider implements the Brave Search API.
type BraveProvider struct {
	apiKey string
	apiURL string
	client *http.Client
}

// NewBraveProvider creates a Brave search provider.
func NewBraveProvider(apiKey, apiURL string, client *http.Client) (*BraveProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("brave api key is required")
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultBraveURL
	}
	return &BraveProvider{apiKey: apiKey, apiURL: apiURL, client: client}, nil
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search executes a query against the Brave Search API.
func (p *BraveProvider) Search(ctx context.Context, query string, opts Options) ([]Hit, error) {
	endpoint, err := url.Parse(p.apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse brave url: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	if opts.Limit > 0 {
		q.Set("count", strconv.Itoa(opts.Limit))
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request failed: %w", err)
	}
	defer resp.Body.Close()

	if !okStatus(resp) {
		return nil, statusError("brave", resp)
	}

	var decoded braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Web.Results))
	for _, item := range decoded.Web.Results {
		hits = append(hits, Hit{
			Title:   item.Title,
			URL:     item.URL,
			Content: strings.TrimSpace(item.Description),
		})
	}
	return hits, nil
}
