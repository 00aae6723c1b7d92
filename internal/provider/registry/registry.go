// Package registry provides provider factory registration and lookup.
//
// # Adding a New Provider
//
// Each provider package exposes an explicit registration function:
//
//	func RegisterProviderFactory() {
//	    if registry.IsRegistered(domain.ProviderGemini) {
//	        return
//	    }
//	    registry.RegisterFactory(registry.ProviderFactory{
//	        Identity:       domain.ProviderGemini,
//	        Description:    "Google Gemini API provider",
//	        Create:         CreateFromConfig,
//	        ValidateConfig: ValidateConfig,
//	    })
//	}
//
// cmd/dispatchd (or a test) calls it so there are no init() side effects.
package registry

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/tjfontaine/polyglot-dispatch/internal/config"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// FactoryOptions carries shared dependencies into a factory.
type FactoryOptions struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// ProviderFactory defines how to create a provider for one identity.
type ProviderFactory struct {
	// Identity is the canonical provider key (gemini, anthropic, ...).
	Identity domain.ProviderIdentity

	// Description provides a human-readable description of the provider
	Description string

	// Create instantiates a new provider from configuration.
	Create func(cfg config.ProviderConfig, opts FactoryOptions) (domain.Provider, error)

	// ValidateConfig performs provider-specific configuration validation.
	// Optional: if nil, no additional validation is performed. A failure
	// marks the provider unavailable.
	ValidateConfig func(cfg config.ProviderConfig) error
}

var (
	factoryMu   sync.RWMutex
	factoryMap  = make(map[domain.ProviderIdentity]ProviderFactory)
	factoryList []ProviderFactory
)

// RegisterFactory registers a provider factory for an identity.
// Panics if a factory with the same identity is already registered.
func RegisterFactory(f ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Identity == "" {
		panic("provider factory identity cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("provider factory %q must have a Create function", f.Identity))
	}

	if _, exists := factoryMap[f.Identity]; exists {
		panic(fmt.Sprintf("provider factory %q already registered", f.Identity))
	}

	factoryMap[f.Identity] = f
	factoryList = append(factoryList, f)
}

// GetFactory returns the factory for an identity, if registered.
func GetFactory(id domain.ProviderIdentity) (ProviderFactory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[id]
	return f, ok
}

// ListFactories returns all registered provider factories sorted by identity.
func ListFactories() []ProviderFactory {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	result := make([]ProviderFactory, len(factoryList))
	copy(result, factoryList)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Identity < result[j].Identity
	})
	return result
}

// ListIdentities returns all registered identities.
func ListIdentities() []domain.ProviderIdentity {
	factories := ListFactories()
	ids := make([]domain.ProviderIdentity, len(factories))
	for i, f := range factories {
		ids[i] = f.Identity
	}
	return ids
}

// IsRegistered returns true if an identity is registered.
func IsRegistered(id domain.ProviderIdentity) bool {
	_, ok := GetFactory(id)
	return ok
}

// ValidateProviderConfig validates cfg using the registered factory's
// validation function.
func ValidateProviderConfig(id domain.ProviderIdentity, cfg config.ProviderConfig) error {
	f, ok := GetFactory(id)
	if !ok {
		return fmt.Errorf("unknown provider: %s (registered: %v)", id, ListIdentities())
	}

	if f.ValidateConfig != nil {
		return f.ValidateConfig(cfg)
	}
	return nil
}

// CreateFromFactory creates a provider using the registered factory.
func CreateFromFactory(id domain.ProviderIdentity, cfg config.ProviderConfig, opts FactoryOptions) (domain.Provider, error) {
	f, ok := GetFactory(id)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s (registered: %v)", id, ListIdentities())
	}

	if f.ValidateConfig != nil {
		if err := f.ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration for provider %s: %w", id, err)
		}
	}

	return f.Create(cfg, opts)
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factoryMap = make(map[domain.ProviderIdentity]ProviderFactory)
	factoryList = nil
}

// RequireAPIKey returns a validator that rejects configs without a credential.
func RequireAPIKey(id domain.ProviderIdentity) func(cfg config.ProviderConfig) error {
	return func(cfg config.ProviderConfig) error {
		if cfg.APIKey == "" {
			return fmt.Errorf("missing credential: %s", config.CredentialEnv[id])
		}
		return nil
	}
}
