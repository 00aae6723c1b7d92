// Package tokens provides the token budget estimator shared by every trimming
// decision, plus exact counters used when providers omit usage figures.
package tokens

import (
	"strings"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// CharsPerToken is the fixed ratio behind EstimateTokens.
const CharsPerToken = 4

// EstimateTokens approximates the token count of text as ceil(len/4).
// Both the trimmer and the trigger classifier use it so budgets stay consistent.
func EstimateTokens(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// Registry manages token counters for different models.
// Registered counters are consulted in order; the estimator is the fallback.
type Registry struct {
	counters []domain.TokenCounter
	fallback domain.TokenCounter
}

// NewRegistry creates a registry with the tiktoken counter for OpenAI models
// and the chars/4 estimator for everything else.
func NewRegistry() *Registry {
	r := &Registry{
		fallback: NewEstimator(),
	}
	r.Register(NewOpenAICounter())
	return r
}

// Register adds a token counter to the registry.
func (r *Registry) Register(counter domain.TokenCounter) {
	r.counters = append(r.counters, counter)
}

// SetFallback sets the fallback counter for unsupported models.
func (r *Registry) SetFallback(counter domain.TokenCounter) {
	r.fallback = counter
}

// GetCounter returns the appropriate counter for a model.
func (r *Registry) GetCounter(model string) domain.TokenCounter {
	for _, counter := range r.counters {
		if counter.SupportsModel(model) {
			return counter
		}
	}
	return r.fallback
}

// Count counts text for model. estimated is true when the count did not come
// from an exact tokenizer, including when the exact counter failed.
func (r *Registry) Count(model, text string) (n int, estimated bool) {
	counter := r.GetCounter(model)
	if counter != nil {
		if n, err := counter.CountText(model, text); err == nil {
			return n, !counter.Exact()
		}
	}
	return EstimateTokens(text), true
}

// Estimator is the chars/4 counter. It supports every model.
type Estimator struct{}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// CountText estimates the token count.
func (e *Estimator) CountText(_, text string) (int, error) {
	return EstimateTokens(text), nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(string) bool {
	return true
}

// Exact returns false.
func (e *Estimator) Exact() bool {
	return false
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	model = strings.ToLower(model)
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
