// Package gemini implements the Google Gemini generateContent provider.
package gemini

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/polyglot-dispatch/internal/config"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/apierr"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/registry"
)

const providerName = string(domain.ProviderGemini)

// RegisterProviderFactory registers the Gemini factory once.
func RegisterProviderFactory() {
	if registry.IsRegistered(domain.ProviderGemini) {
		return
	}
	registry.RegisterFactory(registry.ProviderFactory{
		Identity:       domain.ProviderGemini,
		Description:    "Google Gemini API provider",
		Create:         CreateFromConfig,
		ValidateConfig: registry.RequireAPIKey(domain.ProviderGemini),
	})
}

// CreateFromConfig creates a new Gemini provider from configuration.
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

// Provider implements domain.Provider against generateContent.
type Provider struct {
	client     *Client
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProvider creates a new Gemini provider.
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

func toAPIRequest(call *domain.ProviderCall) *GenerateContentRequest {
	req := &GenerateContentRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: call.Prompt}}}},
	}
	if call.System != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: call.System}}}
	}
	if call.MaxOutputTokens > 0 {
		req.GenerationConfig = &GenerationConfig{MaxOutputTokens: call.MaxOutputTokens}
	}
	return req
}

func (p *Provider) convertError(call *domain.ProviderCall, err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return apierr.FromStatus(providerName, call.Model, statusErr.StatusCode, statusErr.Message).WithCause(err)
	}
	return apierr.FromTransport(providerName, call.Model, call.Fragile, err)
}

// checkBlocked reports a prompt the API refused to answer.
func checkBlocked(call *domain.ProviderCall, resp *GenerateContentResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return domain.ErrInvalidRequest("prompt blocked: "+resp.PromptFeedback.BlockReason).
			WithModel(providerName, call.Model)
	}
	return nil
}

func (p *Provider) Generate(ctx context.Context, call *domain.ProviderCall) (*domain.ProviderResult, error) {
	resp, err := p.client.GenerateContent(ctx, call.Model, toAPIRequest(call))
	if err != nil {
		return nil, p.convertError(call, err)
	}
	if err := checkBlocked(call, resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, domain.ErrServer("response contained no candidates").WithModel(providerName, call.Model)
	}

	result := &domain.ProviderResult{
		Text:  resp.Text(),
		Model: call.Model,
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = resp.UsageMetadata.PromptTokenCount
		result.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	return result, nil
}

func (p *Provider) Stream(ctx context.Context, call *domain.ProviderCall) (<-chan domain.StreamEvent, error) {
	stream, err := p.client.StreamGenerateContent(ctx, call.Model, toAPIRequest(call))
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

		finished := false
		for result := range stream {
			if result.Err != nil {
				emit(domain.StreamEvent{Err: p.convertError(call, result.Err)})
				return
			}
			chunk := result.Chunk
			if chunk.Error != nil {
				emit(domain.StreamEvent{Err: apierr.FromStreamMessage(providerName, call.Model, chunk.Error.Status, chunk.Error.Message)})
				return
			}
			if err := checkBlocked(call, chunk); err != nil {
				emit(domain.StreamEvent{Err: err})
				return
			}
			if text := chunk.Text(); text != "" {
				if !emit(domain.StreamEvent{Text: text}) {
					return
				}
			}
			for _, c := range chunk.Candidates {
				if c.FinishReason != "" {
					finished = true
				}
			}
		}

		if finished || ctx.Err() != nil {
			return
		}
		// The body closed before any candidate reported a finish reason.
		p.logger.Warn("gemini stream ended early", slog.String("model", call.Model))
		emit(domain.StreamEvent{Err: apierr.FromTransport(providerName, call.Model, call.Fragile, errors.New("stream ended before finishReason"))})
	}()

	return out, nil
}
