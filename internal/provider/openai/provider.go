// Package openai implements chat-completions providers (OpenAI and the
// OpenAI-compatible DeepSeek API) on top of the official Go SDK.
package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/tjfontaine/polyglot-dispatch/internal/config"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/apierr"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/registry"
)

// DefaultDeepSeekBaseURL is used when the deepseek section has no base_url.
const DefaultDeepSeekBaseURL = "https://api.deepseek.com/v1"

// RegisterProviderFactory registers the OpenAI factory once.
func RegisterProviderFactory() {
	if registry.IsRegistered(domain.ProviderOpenAI) {
		return
	}
	registry.RegisterFactory(registry.ProviderFactory{
		Identity:       domain.ProviderOpenAI,
		Description:    "OpenAI chat completions provider",
		Create:         factoryFor(domain.ProviderOpenAI, ""),
		ValidateConfig: registry.RequireAPIKey(domain.ProviderOpenAI),
	})
}

// RegisterDeepSeekFactory registers the DeepSeek factory once.
func RegisterDeepSeekFactory() {
	if registry.IsRegistered(domain.ProviderDeepSeek) {
		return
	}
	registry.RegisterFactory(registry.ProviderFactory{
		Identity:       domain.ProviderDeepSeek,
		Description:    "DeepSeek provider (OpenAI-compatible chat completions)",
		Create:         factoryFor(domain.ProviderDeepSeek, DefaultDeepSeekBaseURL),
		ValidateConfig: registry.RequireAPIKey(domain.ProviderDeepSeek),
	})
}

func factoryFor(id domain.ProviderIdentity, defaultBaseURL string) func(config.ProviderConfig, registry.FactoryOptions) (domain.Provider, error) {
	return func(cfg config.ProviderConfig, opts registry.FactoryOptions) (domain.Provider, error) {
		popts := []ProviderOption{WithName(string(id))}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		if baseURL != "" {
			popts = append(popts, WithProviderBaseURL(baseURL))
		}
		if opts.HTTPClient != nil {
			popts = append(popts, WithProviderHTTPClient(opts.HTTPClient))
		}
		if opts.Logger != nil {
			popts = append(popts, WithLogger(opts.Logger))
		}
		return NewProvider(cfg.APIKey, popts...), nil
	}
}

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithName sets the identity reported by Name and used in errors.
func WithName(name string) ProviderOption {
	return func(p *Provider) {
		p.name = name
	}
}

// WithProviderBaseURL sets a custom base URL for the API.
func WithProviderBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.opts = append(p.opts, option.WithBaseURL(baseURL))
	}
}

// WithProviderHTTPClient sets a custom HTTP client.
func WithProviderHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.opts = append(p.opts, option.WithHTTPClient(httpClient))
	}
}

// WithLogger sets the logger for the provider.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider implements domain.Provider against /chat/completions.
type Provider struct {
	client openai.Client
	name   string
	opts   []option.RequestOption
	logger *slog.Logger
}

// NewProvider creates a new chat-completions provider.
func NewProvider(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		name:   string(domain.ProviderOpenAI),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	// Retries are owned by the dispatch engine.
	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, p.opts...)
	p.client = openai.NewClient(clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return p.name
}

func toParams(call *domain.ProviderCall) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if call.System != "" {
		messages = append(messages, openai.SystemMessage(call.System))
	}
	messages = append(messages, openai.UserMessage(call.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(call.Model),
		Messages: messages,
	}
	if call.MaxOutputTokens > 0 {
		// Reasoning-era models reject max_tokens.
		if call.Convention == domain.ConventionChatCompletion {
			params.MaxCompletionTokens = openai.Int(int64(call.MaxOutputTokens))
		} else {
			params.MaxTokens = openai.Int(int64(call.MaxOutputTokens))
		}
	}
	return params
}

func (p *Provider) convertError(call *domain.ProviderCall, err error) error {
	var sdkErr *openai.Error
	if errors.As(err, &sdkErr) {
		msg := sdkErr.Message
		if msg == "" {
			msg = sdkErr.Error()
		}
		return apierr.FromStatus(p.name, call.Model, sdkErr.StatusCode, msg).WithCause(err)
	}
	return apierr.FromTransport(p.name, call.Model, call.Fragile, err)
}

func (p *Provider) Generate(ctx context.Context, call *domain.ProviderCall) (*domain.ProviderResult, error) {
	resp, err := p.client.Chat.Completions.New(ctx, toParams(call))
	if err != nil {
		return nil, p.convertError(call, err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.ErrServer("response contained no choices").WithModel(p.name, call.Model)
	}

	model := resp.Model
	if model == "" {
		model = call.Model
	}
	return &domain.ProviderResult{
		Text:         resp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (p *Provider) Stream(ctx context.Context, call *domain.ProviderCall) (<-chan domain.StreamEvent, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, toParams(call))
	// The SDK reports connection and status failures through Err before
	// the first Next.
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, p.convertError(call, err)
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		emit := func(ev domain.StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !emit(domain.StreamEvent{Text: choice.Delta.Content}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			emit(domain.StreamEvent{Err: p.convertError(call, err)})
		}
	}()

	return out, nil
}
