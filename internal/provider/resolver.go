package provider

import (
	"log/slog"
	"strings"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// Resolution is the result of resolving a caller-supplied alias.
type Resolution struct {
	Identity domain.ProviderIdentity `json:"provider"`
	// Model is set when the alias named a specific model.
	Model string `json:"model,omitempty"`
	// Fallback is true when the alias was unknown and the default was used.
	Fallback bool `json:"fallback,omitempty"`
}

type aliasTarget struct {
	identity domain.ProviderIdentity
	model    string
}

// aliases maps lower-cased aliases to identities. Model-named aliases pin
// that model to the front of the chain.
var aliases = map[string]aliasTarget{
	"gemini":           {domain.ProviderGemini, ""},
	"google":           {domain.ProviderGemini, ""},
	"gemini-pro":       {domain.ProviderGemini, "gemini-2.5-pro"},
	"gemini-2.5-pro":   {domain.ProviderGemini, "gemini-2.5-pro"},
	"gemini-flash":     {domain.ProviderGemini, "gemini-2.5-flash"},
	"gemini-2.5-flash": {domain.ProviderGemini, "gemini-2.5-flash"},
	"gemini-2.0-flash": {domain.ProviderGemini, "gemini-2.0-flash"},

	"anthropic":         {domain.ProviderAnthropic, ""},
	"claude":            {domain.ProviderAnthropic, ""},
	"claude-opus":       {domain.ProviderAnthropic, "claude-opus-4-1"},
	"claude-opus-4.1":   {domain.ProviderAnthropic, "claude-opus-4-1"},
	"claude-opus-4-1":   {domain.ProviderAnthropic, "claude-opus-4-1"},
	"claude-sonnet":     {domain.ProviderAnthropic, "claude-sonnet-4-5"},
	"claude-sonnet-4.5": {domain.ProviderAnthropic, "claude-sonnet-4-5"},
	"claude-sonnet-4-5": {domain.ProviderAnthropic, "claude-sonnet-4-5"},
	"claude-haiku":      {domain.ProviderAnthropic, "claude-3-5-haiku-latest"},

	"openai":      {domain.ProviderOpenAI, ""},
	"gpt":         {domain.ProviderOpenAI, ""},
	"chatgpt":     {domain.ProviderOpenAI, ""},
	"gpt-5":       {domain.ProviderOpenAI, "gpt-5"},
	"gpt-4.1":     {domain.ProviderOpenAI, "gpt-4.1"},
	"gpt-4o-mini": {domain.ProviderOpenAI, "gpt-4o-mini"},

	"deepseek":          {domain.ProviderDeepSeek, ""},
	"deepseek-chat":     {domain.ProviderDeepSeek, "deepseek-chat"},
	"deepseek-v3":       {domain.ProviderDeepSeek, "deepseek-chat"},
	"deepseek-reasoner": {domain.ProviderDeepSeek, "deepseek-reasoner"},
	"deepseek-r1":       {domain.ProviderDeepSeek, "deepseek-reasoner"},
}

// Aliases returns the known aliases.
func Aliases() []string {
	out := make([]string, 0, len(aliases))
	for a := range aliases {
		out = append(out, a)
	}
	return out
}

// Resolver maps aliases to provider identities. It never fails: unknown
// aliases resolve to the configured default.
type Resolver struct {
	fallback domain.ProviderIdentity
	logger   *slog.Logger
}

// NewResolver creates a resolver. An empty or unknown fallback becomes gemini.
func NewResolver(fallback domain.ProviderIdentity, logger *slog.Logger) *Resolver {
	if t, ok := aliases[strings.ToLower(strings.TrimSpace(string(fallback)))]; ok {
		fallback = t.identity
	} else {
		fallback = domain.ProviderGemini
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fallback: fallback, logger: logger}
}

// Default returns the identity unknown aliases resolve to.
func (r *Resolver) Default() domain.ProviderIdentity {
	return r.fallback
}

// Resolve returns the canonical identity for alias.
func (r *Resolver) Resolve(alias string) domain.ProviderIdentity {
	return r.ResolveAlias(alias).Identity
}

// ResolveAlias returns the identity and, when the alias names one, the
// pinned model.
func (r *Resolver) ResolveAlias(alias string) Resolution {
	key := strings.ToLower(strings.TrimSpace(alias))
	if t, ok := aliases[key]; ok {
		return Resolution{Identity: t.identity, Model: t.model}
	}
	if key != "" {
		r.logger.Debug("unknown provider alias, using default",
			slog.String("alias", alias),
			slog.String("provider", string(r.fallback)),
		)
	}
	return Resolution{Identity: r.fallback, Fallback: true}
}
