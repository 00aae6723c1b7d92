// Package dispatch runs one generation request against a provider's model
// chain with per-model retry and chain fallback, either one-shot or
// streamed.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-dispatch/internal/budget"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider"
	"github.com/tjfontaine/polyglot-dispatch/internal/retry"
	"github.com/tjfontaine/polyglot-dispatch/internal/tokens"
)

const (
	// DefaultMaxPromptBytes is the absolute body ceiling before dispatch.
	DefaultMaxPromptBytes = 400000
	// TruncationNotice is appended to bodies cut at the ceiling.
	TruncationNotice = "\n\n[Content truncated due to size limits]"

	tracerName = "github.com/tjfontaine/polyglot-dispatch/internal/dispatch"
)

// CallTimeout returns the per-call ceiling for a prompt of the given
// estimated size.
func CallTimeout(estimatedTokens int) time.Duration {
	switch {
	case estimatedTokens > 150000:
		return 180 * time.Second
	case estimatedTokens > 50000:
		return 120 * time.Second
	default:
		return 60 * time.Second
	}
}

// Providers returns the client for an identity.
type Providers interface {
	Get(id domain.ProviderIdentity) (domain.Provider, bool)
}

// Chains returns the model chain for an identity.
type Chains interface {
	ChainFor(id domain.ProviderIdentity) (domain.ModelChain, bool)
}

// Capabilities resolves a model's output ceiling.
type Capabilities interface {
	MaxOutputTokens(ctx context.Context, provider, model string) (int, error)
}

// Call is one dispatch request.
type Call struct {
	Provider domain.ProviderIdentity
	// PreferredModel is moved to the front of the chain when it is a member.
	PreferredModel string
	System         string
	Prompt         string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy sets the per-model retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) {
		e.retry = p
	}
}

// WithTokenRegistry sets the counter used when a provider omits usage.
func WithTokenRegistry(r *tokens.Registry) Option {
	return func(e *Engine) {
		e.tokens = r
	}
}

// WithMaxPromptBytes sets the body ceiling.
func WithMaxPromptBytes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPromptBytes = n
		}
	}
}

// WithTimeoutFunc replaces CallTimeout.
func WithTimeoutFunc(fn func(estimatedTokens int) time.Duration) Option {
	return func(e *Engine) {
		e.timeout = fn
	}
}

// WithTracer sets the tracer for attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine dispatches calls. It is safe for concurrent use.
type Engine struct {
	providers      Providers
	chains         Chains
	capabilities   Capabilities
	retry          retry.Policy
	tokens         *tokens.Registry
	maxPromptBytes int
	timeout        func(int) time.Duration
	tracer         trace.Tracer
	logger         *slog.Logger
}

// New creates an Engine.
func New(providers Providers, chains Chains, capabilities Capabilities, opts ...Option) *Engine {
	e := &Engine{
		providers:      providers,
		chains:         chains,
		capabilities:   capabilities,
		retry:          retry.DefaultPolicy(),
		tokens:         tokens.NewRegistry(),
		maxPromptBytes: DefaultMaxPromptBytes,
		timeout:        CallTimeout,
		tracer:         otel.Tracer(tracerName),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retry.Logger == nil {
		e.retry.Logger = e.logger
	}
	return e
}

// plan is the per-request state shared by both dispatch modes.
type plan struct {
	provider domain.Provider
	identity string
	chain    domain.ModelChain
	system   string
	body     string
	timeout  time.Duration
}

func (e *Engine) prepare(call Call) (*plan, error) {
	chain, ok := e.chains.ChainFor(call.Provider)
	if !ok || len(chain) == 0 {
		return nil, domain.ErrUnsupportedProvider(string(call.Provider))
	}
	p, ok := e.providers.Get(call.Provider)
	if !ok {
		return nil, domain.ErrUnsupportedProvider(string(call.Provider))
	}
	if call.PreferredModel != "" {
		chain = provider.Pin(chain, call.PreferredModel)
	}

	body := call.Prompt
	if len(body) > e.maxPromptBytes {
		e.logger.Warn("prompt exceeds size ceiling, truncating",
			slog.String("provider", string(call.Provider)),
			slog.Int("bytes", len(body)),
			slog.Int("max_bytes", e.maxPromptBytes),
		)
		limit := e.maxPromptBytes - len(TruncationNotice)
		if limit < 0 {
			limit = 0
		}
		body = budget.TruncateBytes(body, limit, TruncationNotice)
	}

	estimated := tokens.EstimateTokens(call.System) + tokens.EstimateTokens(body)
	return &plan{
		provider: p,
		identity: string(call.Provider),
		chain:    chain,
		system:   call.System,
		body:     body,
		timeout:  e.timeout(estimated),
	}, nil
}

func (e *Engine) providerCall(ctx context.Context, pl *plan, spec domain.ModelSpec) (*domain.ProviderCall, error) {
	maxTokens, err := e.capabilities.MaxOutputTokens(ctx, pl.identity, spec.ID)
	if err != nil {
		return nil, err
	}
	return &domain.ProviderCall{
		Model:           spec.ID,
		Convention:      spec.Convention,
		Fragile:         spec.Fragile,
		System:          pl.system,
		Prompt:          pl.body,
		MaxOutputTokens: maxTokens,
	}, nil
}

// fallbackEligible reports whether the next chain entry should be tried
// after err ended the current one. Transient errors reach this point only
// once the retry budget for the model is spent.
func fallbackEligible(err error) bool {
	switch domain.TypeOf(err) {
	case domain.ErrorTypeModelIncompatible, domain.ErrorTypeTransient:
		return true
	}
	return domain.TypeOf(err) == "" && domain.IsTransient(err)
}

func (e *Engine) startSpan(ctx context.Context, name string, pl *plan, model string, attempt int) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("provider", pl.identity),
		attribute.String("model", model),
		attribute.Int("attempt", attempt),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Generate runs call one-shot and returns the first successful answer.
func (e *Engine) Generate(ctx context.Context, call Call) (*domain.DispatchOutcome, error) {
	pl, err := e.prepare(call)
	if err != nil {
		return nil, err
	}

	var failures []domain.ModelFailure
	for i, spec := range pl.chain {
		pc, err := e.providerCall(ctx, pl, spec)
		if err != nil {
			return nil, err
		}

		res, err := retry.Do(ctx, e.retry, func(ctx context.Context, attempt int) (*domain.ProviderResult, error) {
			return e.generateOnce(ctx, pl, pc, attempt)
		})
		if err == nil {
			return e.outcome(pl, pc, res), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		failures = append(failures, domain.ModelFailure{Model: spec.ID, Err: err})
		if !fallbackEligible(err) {
			return nil, err
		}
		if i < len(pl.chain)-1 {
			e.logger.Warn("model failed, falling back to next in chain",
				slog.String("provider", pl.identity),
				slog.String("model", spec.ID),
				slog.String("next_model", pl.chain[i+1].ID),
				slog.String("error", err.Error()),
			)
		}
	}

	exhausted := domain.ErrAllModelsExhausted(pl.identity, failures)
	e.logger.Error("all models failed",
		slog.String("provider", pl.identity),
		slog.Int("models", len(failures)),
		slog.String("error", exhausted.Error()),
	)
	return nil, exhausted
}

func (e *Engine) generateOnce(ctx context.Context, pl *plan, pc *domain.ProviderCall, attempt int) (*domain.ProviderResult, error) {
	ctx, span := e.startSpan(ctx, "dispatch.generate", pl, pc.Model, attempt)
	ctx, cancel := context.WithTimeout(ctx, pl.timeout)
	defer cancel()

	res, err := pl.provider.Generate(ctx, pc)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && domain.TypeOf(err) == "" {
		err = domain.ErrTransient("request timed out").
			WithCode(domain.ErrorCodeTimeout).
			WithModel(pl.identity, pc.Model).
			WithCause(err)
	}
	endSpan(span, err)
	return res, err
}

func (e *Engine) outcome(pl *plan, pc *domain.ProviderCall, res *domain.ProviderResult) *domain.DispatchOutcome {
	out := &domain.DispatchOutcome{
		Text:         res.Text,
		Provider:     pl.identity,
		UsedModel:    pc.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
	}
	if out.InputTokens == 0 {
		n, estimated := e.tokens.Count(pc.Model, pl.system+"\n"+pl.body)
		out.InputTokens = n
		out.Estimated = out.Estimated || estimated
	}
	if out.OutputTokens == 0 && res.Text != "" {
		n, estimated := e.tokens.Count(pc.Model, res.Text)
		out.OutputTokens = n
		out.Estimated = out.Estimated || estimated
	}
	return out
}
