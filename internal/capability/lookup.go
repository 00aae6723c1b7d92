// Package capability resolves the output-token ceiling of a provider+model pair.
package capability

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alphadose/haxmap"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// DefaultMaxOutputTokens is consulted when the store has neither an exact
// nor a model-only row. Keys are lower-cased model IDs.
var DefaultMaxOutputTokens = map[string]int{
	"gemini-2.5-pro":          65536,
	"gemini-2.5-flash":        65536,
	"gemini-2.0-flash":        8192,
	"claude-opus-4-1":         32000,
	"claude-sonnet-4-5":       64000,
	"claude-3-5-haiku-latest": 8192,
	"gpt-5":                   128000,
	"gpt-4.1":                 32768,
	"gpt-4o-mini":             16384,
	"deepseek-chat":           8192,
	"deepseek-reasoner":       65536,
}

// Lookup answers max-output-token queries through three tiers: the exact
// provider+model row, the model-only row, then the default table.
//
// Hits are cached for the life of the Lookup. Concurrent misses for the same
// key may both query the store; the last write wins and the value is the same.
type Lookup struct {
	store    domain.CapabilityStore
	defaults map[string]int
	cache    *haxmap.Map[string, int]
	logger   *slog.Logger
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithDefaults replaces the hard-coded default table.
func WithDefaults(defaults map[string]int) Option {
	return func(l *Lookup) {
		l.defaults = make(map[string]int, len(defaults))
		for k, v := range defaults {
			l.defaults[strings.ToLower(k)] = v
		}
	}
}

// WithLogger sets the logger for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lookup) {
		l.logger = logger
	}
}

// New creates a Lookup. store may be nil, in which case only the default
// table answers.
func New(store domain.CapabilityStore, opts ...Option) *Lookup {
	l := &Lookup{
		store:    store,
		defaults: DefaultMaxOutputTokens,
		cache:    haxmap.New[string, int](),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CacheKey returns the cache key for a pair: lower-cased "provider::model".
func CacheKey(provider, model string) string {
	return strings.ToLower(provider) + "::" + strings.ToLower(model)
}

// MaxOutputTokens returns the ceiling for provider+model, or a
// configuration_missing error when no tier knows the model.
func (l *Lookup) MaxOutputTokens(ctx context.Context, provider, model string) (int, error) {
	key := CacheKey(provider, model)
	if n, ok := l.cache.Get(key); ok {
		return n, nil
	}

	n, ok := l.resolve(ctx, provider, model)
	if !ok {
		return 0, domain.ErrConfigurationMissing(provider, model)
	}
	l.cache.Set(key, n)
	return n, nil
}

func (l *Lookup) resolve(ctx context.Context, provider, model string) (int, bool) {
	if l.store != nil {
		for _, p := range []string{provider, ""} {
			n, found, err := l.store.LookupCapability(ctx, p, model)
			if err != nil {
				l.logger.Warn("capability store lookup failed",
					slog.String("provider", p),
					slog.String("model", model),
					slog.String("error", err.Error()),
				)
				continue
			}
			if found {
				return n, true
			}
		}
	}

	n, ok := l.defaults[strings.ToLower(model)]
	return n, ok
}

// Cached returns the number of cached entries.
func (l *Lookup) Cached() int {
	return int(l.cache.Len())
}
