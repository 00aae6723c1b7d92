// Package gateway provides the public API for embedding the dispatch layer.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// Request and result types of the inbound contract.
type (
	GenerationRequest = domain.GenerationRequest
	Chunk             = domain.Chunk
	DispatchOutcome   = domain.DispatchOutcome
	Fragment          = domain.Fragment
	CitationEntry     = domain.CitationEntry
	ProviderIdentity  = domain.ProviderIdentity
	ProviderStatus    = domain.ProviderStatus
	APIError          = domain.APIError
	ErrorType         = domain.ErrorType
)

// Error types callers most often branch on.
const (
	ErrorTypeUnsupportedProvider = domain.ErrorTypeUnsupportedProvider
	ErrorTypeAllModelsExhausted  = domain.ErrorTypeAllModelsExhausted
	ErrorTypeConfigMissing       = domain.ErrorTypeConfigurationMissing
)
