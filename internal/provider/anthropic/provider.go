// Package anthropic implements the Anthropic Messages API provider.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/polyglot-dispatch/internal/config"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/apierr"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/registry"
)

const providerName = string(domain.ProviderAnthropic)

// RegisterProviderFactory registers the Anthropic factory once.
func RegisterProviderFactory() {
	if registry.IsRegistered(domain.ProviderAnthropic) {
		return
	}
	registry.RegisterFactory(registry.ProviderFactory{
		Identity:       domain.ProviderAnthropic,
		Description:    "Anthropic API provider (Claude models)",
		Create:         CreateFromConfig,
		ValidateConfig: registry.RequireAPIKey(domain.ProviderAnthropic),
	})
}

// CreateFromConfig creates a new Anthropic provider from configuration.
func CreateFromConfig(cfg config.ProviderConfig, opts registry.FactoryOptions) (domain.Provider, error) {
	var popts []ProviderOption
	if cfg.BaseURL != "" {
		popts = append(popts, WithProviderBaseURL(cfg.BaseURL))
	}
	if opts.HTTPClient != nil {
		popts = append(popts, WithProviderHTTPClient(opts.HTTPClient))
	}
	if opts.Logger != nil {
		popts = append(popts, WithLogger(opts.Logger))
	}
	return NewProvider(cfg.APIKey, popts...), nil
}

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithProviderBaseURL sets a custom base URL for the API.
func WithProviderBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithProviderHTTPClient sets a custom HTTP client.
func WithProviderHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// WithLogger sets the logger for the provider.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider implements domain.Provider against the Messages API.
type Provider struct {
	client     *Client
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProvider creates a new Anthropic provider.
func NewProvider(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, WithHTTPClient(p.httpClient))
	}
	p.client = NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return providerName
}

func toAPIRequest(call *domain.ProviderCall) *MessagesRequest {
	return &MessagesRequest{
		Model:     call.Model,
		Messages:  []Message{{Role: "user", Content: call.Prompt}},
		MaxTokens: call.MaxOutputTokens,
		System:    call.System,
	}
}

func (p *Provider) convertError(call *domain.ProviderCall, err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return apierr.FromStatus(providerName, call.Model, statusErr.StatusCode, statusErr.Message).WithCause(err)
	}
	return apierr.FromTransport(providerName, call.Model, call.Fragile, err)
}

func (p *Provider) Generate(ctx context.Context, call *domain.ProviderCall) (*domain.ProviderResult, error) {
	resp, err := p.client.CreateMessage(ctx, toAPIRequest(call))
	if err != nil {
		return nil, p.convertError(call, err)
	}

	model := resp.Model
	if model == "" {
		model = call.Model
	}
	return &domain.ProviderResult{
		Text:         resp.Text(),
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func (p *Provider) Stream(ctx context.Context, call *domain.ProviderCall) (<-chan domain.StreamEvent, error) {
	stream, err := p.client.StreamMessage(ctx, toAPIRequest(call))
	if err != nil {
		return nil, p.convertError(call, err)
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)

		emit := func(ev domain.StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for result := range stream {
			if result.Err != nil {
				emit(domain.StreamEvent{Err: p.convertError(call, result.Err)})
				return
			}

			switch result.EventType {
			case "content_block_delta":
				var event ContentBlockDeltaEvent
				if err := json.Unmarshal(result.Data, &event); err != nil {
					emit(domain.StreamEvent{Err: fmt.Errorf("parse content_block_delta: %w", err)})
					return
				}
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					if !emit(domain.StreamEvent{Text: event.Delta.Text}) {
						return
					}
				}

			case "error":
				var body ErrorResponse
				if err := json.Unmarshal(result.Data, &body); err != nil || body.Error == nil {
					emit(domain.StreamEvent{Err: apierr.FromStreamMessage(providerName, call.Model, "", string(result.Data))})
					return
				}
				emit(domain.StreamEvent{Err: apierr.FromStreamMessage(providerName, call.Model, body.Error.Type, body.Error.Message)})
				return

			case "message_stop":
				return

			case "message_start", "content_block_start", "content_block_stop", "message_delta", "ping":
				continue
			}
		}

		if ctx.Err() != nil {
			return
		}
		// The body closed without message_stop.
		p.logger.Warn("anthropic stream ended early", slog.String("model", call.Model))
		emit(domain.StreamEvent{Err: apierr.FromTransport(providerName, call.Model, call.Fragile, errors.New("stream ended before message_stop"))})
	}()

	return out, nil
}
