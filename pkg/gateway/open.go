package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-dispatch/internal/capability"
	"github.com/tjfontaine/polyglot-dispatch/internal/config"
	"github.com/tjfontaine/polyglot-dispatch/internal/dispatch"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/fetch"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/anthropic"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/gemini"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/openai"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/registry"
	"github.com/tjfontaine/polyglot-dispatch/internal/retry"
	"github.com/tjfontaine/polyglot-dispatch/internal/search"
	"github.com/tjfontaine/polyglot-dispatch/internal/storage"
	"github.com/tjfontaine/polyglot-dispatch/internal/tokens"
)

// RegisterProviders registers the factory of every built-in provider. It is
// safe to call more than once.
func RegisterProviders() {
	gemini.RegisterProviderFactory()
	anthropic.RegisterProviderFactory()
	openai.RegisterProviderFactory()
	openai.RegisterDeepSeekFactory()
}

// Open wires a Service from configuration. store backs capability lookups and
// the base system instruction and may be nil. Providers without credentials
// are left out and reported by ListAvailableProviders.
func Open(cfg *config.Config, store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	RegisterProviders()

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	set := provider.BuildSet(cfg, registry.FactoryOptions{HTTPClient: httpClient, Logger: logger})
	chains := provider.NewChains(chainOverrides(cfg))

	var capStore domain.CapabilityStore
	var instructions domain.InstructionSource
	if store != nil {
		capStore = store
		instructions = store
	}
	caps := capability.New(capStore, capability.WithLogger(logger))

	engine := dispatch.New(set, chains, caps,
		dispatch.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Retryable:   domain.IsTransient,
			Logger:      logger,
		}),
		dispatch.WithMaxPromptBytes(cfg.Budget.MaxPromptBytes),
		dispatch.WithTokenRegistry(tokens.NewRegistry()),
		dispatch.WithLogger(logger),
	)

	searchHTTP := &http.Client{
		Timeout:   searchTimeout(cfg.Search),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	searchProvider, err := search.NewProvider(cfg.Search, searchHTTP)
	if err != nil {
		logger.Warn("web search disabled",
			slog.String("provider", cfg.Search.Provider),
			slog.String("error", err.Error()),
		)
	}

	fetcher := fetch.New(
		fetch.WithMaxChars(cfg.Fetch.MaxChars),
		fetch.WithTimeout(cfg.Fetch.Timeout),
		fetch.WithAllowPrivate(cfg.Fetch.AllowPrivate),
		fetch.WithLogger(logger),
	)

	opts := []Option{
		WithSearch(search.NewClient(searchProvider,
			search.WithTimeout(searchTimeout(cfg.Search)),
			search.WithLogger(logger),
		), cfg.Search.Results),
		WithFetcher(fetcher),
		WithInstructionSource(instructions, cfg.SystemInstruction),
		WithBudget(cfg.Budget),
		WithLogger(logger),
	}

	resolver := provider.NewResolver(domain.ProviderIdentity(cfg.Providers.Default), logger)
	return NewService(engine, resolver, set, chains, opts...)
}

func chainOverrides(cfg *config.Config) map[domain.ProviderIdentity]domain.ModelChain {
	out := make(map[domain.ProviderIdentity]domain.ModelChain)
	for _, f := range registry.ListFactories() {
		if pc, ok := cfg.Provider(f.Identity); ok && len(pc.Chain) > 0 {
			out[f.Identity] = domain.ModelChain(pc.Chain)
		}
	}
	return out
}

func searchTimeout(cfg config.SearchConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return search.DefaultTimeout
}
