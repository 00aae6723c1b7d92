package domain

import (
	"context"
)

// ProviderCall is a single generation request against one model.
type ProviderCall struct {
	Model           string
	Convention      Convention
	Fragile         bool
	System          string
	Prompt          string
	MaxOutputTokens int
}

// ProviderResult is the answer of a single one-shot call.
type ProviderResult struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// StreamEvent carries one streamed text fragment or an in-stream error.
type StreamEvent struct {
	Text string
	Err  error
}

// Provider defines the interface for text-generation vendors.
type Provider interface {
	Name() string

	// Generate handles unary requests (non-streaming).
	Generate(ctx context.Context, call *ProviderCall) (*ProviderResult, error)

	// Stream returns a channel of events.
	// The channel MUST be closed by the provider when done. Cancelling ctx
	// must abort the underlying network call.
	Stream(ctx context.Context, call *ProviderCall) (<-chan StreamEvent, error)
}

// CapabilityStore answers max-output-token lookups.
// Implementations: SQLite (default), in-memory.
type CapabilityStore interface {
	// LookupCapability returns the ceiling for an exact provider+model row.
	// An empty provider addresses model-only rows. found is false on miss.
	LookupCapability(ctx context.Context, provider, model string) (maxOutputTokens int, found bool, err error)
}

// InstructionSource supplies the externally configured base system instruction.
type InstructionSource interface {
	// GetLatest returns the newest instruction, or "" when none is stored.
	GetLatest(ctx context.Context) (string, error)
}
