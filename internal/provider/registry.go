package provider

import (
	"log/slog"
	"sort"

	"github.com/tjfontaine/polyglot-dispatch/internal/config"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/registry"
)

// Set holds the provider clients built from configuration, plus the reason
// each missing one could not be built.
type Set struct {
	providers   map[domain.ProviderIdentity]domain.Provider
	unavailable map[domain.ProviderIdentity]string
}

// NewSet creates an empty provider set.
func NewSet() *Set {
	return &Set{
		providers:   make(map[domain.ProviderIdentity]domain.Provider),
		unavailable: make(map[domain.ProviderIdentity]string),
	}
}

// BuildSet creates one provider per registered factory. Factories whose
// configuration does not validate are recorded as unavailable.
func BuildSet(cfg *config.Config, opts registry.FactoryOptions) *Set {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	set := NewSet()
	for _, f := range registry.ListFactories() {
		pc, ok := cfg.Provider(f.Identity)
		if !ok {
			set.unavailable[f.Identity] = "not configured"
			continue
		}
		p, err := registry.CreateFromFactory(f.Identity, pc, opts)
		if err != nil {
			set.unavailable[f.Identity] = reasonFor(f.Identity, pc)
			logger.Info("provider unavailable",
				slog.String("provider", string(f.Identity)),
				slog.String("reason", set.unavailable[f.Identity]),
			)
			continue
		}
		set.Add(f.Identity, p)
	}
	return set
}

func reasonFor(id domain.ProviderIdentity, pc config.ProviderConfig) string {
	if err := registry.ValidateProviderConfig(id, pc); err != nil {
		return err.Error()
	}
	return "failed to create client"
}

// Add registers p under id, replacing any previous provider.
func (s *Set) Add(id domain.ProviderIdentity, p domain.Provider) {
	s.providers[id] = p
	delete(s.unavailable, id)
}

// MarkUnavailable records why id has no client.
func (s *Set) MarkUnavailable(id domain.ProviderIdentity, reason string) {
	delete(s.providers, id)
	s.unavailable[id] = reason
}

// Get returns the provider for id.
func (s *Set) Get(id domain.ProviderIdentity) (domain.Provider, bool) {
	p, ok := s.providers[id]
	return p, ok
}

// Reason returns why id is unavailable, or "configured".
func (s *Set) Reason(id domain.ProviderIdentity) string {
	if _, ok := s.providers[id]; ok {
		return "configured"
	}
	if r, ok := s.unavailable[id]; ok {
		return r
	}
	if env, ok := config.CredentialEnv[id]; ok {
		return "missing credential: " + env
	}
	return "not registered"
}

// Identities returns every identity the set knows about, sorted.
func (s *Set) Identities() []domain.ProviderIdentity {
	seen := make(map[domain.ProviderIdentity]bool)
	for id := range s.providers {
		seen[id] = true
	}
	for id := range s.unavailable {
		seen[id] = true
	}
	ids := make([]domain.ProviderIdentity, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
