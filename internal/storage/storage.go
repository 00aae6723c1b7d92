// Package storage defines the persistence contracts behind model capability
// lookups and the base system instruction.
package storage

import (
	"context"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// Store is implemented by every storage backend.
type Store interface {
	domain.CapabilityStore
	domain.InstructionSource

	// UpsertCapability inserts or replaces one capability row. An empty
	// Provider writes a model-only row.
	UpsertCapability(ctx context.Context, capability domain.ModelCapability) error

	// SaveInstruction appends a system instruction and returns its ID.
	SaveInstruction(ctx context.Context, content string) (string, error)

	Close() error
}
