package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/storage"
)

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu           sync.RWMutex
	capabilities map[string]int
	instructions []string
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		capabilities: make(map[string]int),
	}
}

func capabilityKey(provider, model string) string {
	return strings.ToLower(provider) + "::" + strings.ToLower(model)
}

func (s *Store) LookupCapability(_ context.Context, provider, model string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.capabilities[capabilityKey(provider, model)]
	return n, ok, nil
}

func (s *Store) UpsertCapability(_ context.Context, c domain.ModelCapability) error {
	if c.ModelID == "" {
		return fmt.Errorf("capability model is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.capabilities[capabilityKey(string(c.Provider), c.ModelID)] = c.MaxOutputTokens
	return nil
}

func (s *Store) GetLatest(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.instructions) == 0 {
		return "", nil
	}
	return s.instructions[len(s.instructions)-1], nil
}

func (s *Store) SaveInstruction(_ context.Context, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instructions = append(s.instructions, content)
	return uuid.New().String(), nil
}

func (s *Store) Close() error {
	return nil
}
