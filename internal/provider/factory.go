// Package provider resolves caller aliases to provider identities, holds the
// model chain of each identity, and builds provider clients from configuration.
//
// # Adding a New Provider
//
// Implement domain.Provider in a subpackage and expose an explicit
// registration function that calls registry.RegisterFactory. Wire that
// registration from cmd/dispatchd (or tests) so we avoid init() side effects.
package provider

import (
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/registry"
)

// Re-export types from registry for convenience
type (
	ProviderFactory = registry.ProviderFactory
	FactoryOptions  = registry.FactoryOptions
)

// RegisterFactory registers a provider factory (delegated to registry).
var RegisterFactory = registry.RegisterFactory

// GetFactory returns the factory for an identity (delegated to registry).
var GetFactory = registry.GetFactory

// ListFactories returns all registered provider factories (delegated to registry).
var ListFactories = registry.ListFactories

// IsRegistered returns true if an identity is registered (delegated to registry).
var IsRegistered = registry.IsRegistered

// ClearFactories removes all registered factories (for testing only).
var ClearFactories = registry.ClearFactories
