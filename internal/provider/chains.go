package provider

import (
	"strings"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// DefaultChains returns the built-in model chains. Earlier entries are preferred.
func DefaultChains() map[domain.ProviderIdentity]domain.ModelChain {
	return map[domain.ProviderIdentity]domain.ModelChain{
		domain.ProviderGemini: {
			{ID: "gemini-2.5-pro", Convention: domain.ConventionGenerate, Fragile: true},
			{ID: "gemini-2.5-flash", Convention: domain.ConventionGenerate},
			{ID: "gemini-2.0-flash", Convention: domain.ConventionGenerate},
		},
		domain.ProviderAnthropic: {
			{ID: "claude-opus-4-1", Convention: domain.ConventionMessages},
			{ID: "claude-sonnet-4-5", Convention: domain.ConventionMessages},
			{ID: "claude-3-5-haiku-latest", Convention: domain.ConventionMessages},
		},
		domain.ProviderOpenAI: {
			{ID: "gpt-5", Convention: domain.ConventionChatCompletion, Fragile: true},
			{ID: "gpt-4.1", Convention: domain.ConventionChat},
			{ID: "gpt-4o-mini", Convention: domain.ConventionChat},
		},
		domain.ProviderDeepSeek: {
			{ID: "deepseek-chat", Convention: domain.ConventionChat},
			{ID: "deepseek-reasoner", Convention: domain.ConventionChat},
		},
	}
}

// Chains holds the model chain of each provider identity.
type Chains struct {
	chains map[domain.ProviderIdentity]domain.ModelChain
}

// NewChains starts from DefaultChains and applies non-empty overrides.
func NewChains(overrides map[domain.ProviderIdentity]domain.ModelChain) *Chains {
	c := &Chains{chains: DefaultChains()}
	for id, chain := range overrides {
		if len(chain) > 0 {
			c.chains[id] = append(domain.ModelChain(nil), chain...)
		}
	}
	return c
}

// ChainFor returns a copy of the chain for id. ok is false when id has none.
func (c *Chains) ChainFor(id domain.ProviderIdentity) (domain.ModelChain, bool) {
	chain, ok := c.chains[id]
	if !ok || len(chain) == 0 {
		return nil, false
	}
	return append(domain.ModelChain(nil), chain...), true
}

// Identities returns the identities that have a chain.
func (c *Chains) Identities() []domain.ProviderIdentity {
	ids := make([]domain.ProviderIdentity, 0, len(c.chains))
	for id := range c.chains {
		ids = append(ids, id)
	}
	return ids
}

// Pin moves model to the front of chain, keeping the rest in order. A model
// that is not in the chain is prepended with the convention of the first
// entry.
func Pin(chain domain.ModelChain, model string) domain.ModelChain {
	if model == "" || len(chain) == 0 {
		return chain
	}
	out := make(domain.ModelChain, 0, len(chain)+1)
	for _, m := range chain {
		if strings.EqualFold(m.ID, model) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		out = append(out, domain.ModelSpec{ID: model, Convention: chain[0].Convention})
	}
	for _, m := range chain {
		if !strings.EqualFold(m.ID, model) {
			out = append(out, m)
		}
	}
	return out
}
