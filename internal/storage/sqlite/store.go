package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/storage"
)

// Store is a SQLite implementation of storage.Store
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS model_capabilities (
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			max_output_tokens INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, model)
		)`,
		`CREATE TABLE IF NOT EXISTS system_instructions (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_capabilities_model ON model_capabilities(model)`,
		`CREATE INDEX IF NOT EXISTS idx_system_instructions_created ON system_instructions(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LookupCapability returns the ceiling for one provider+model row. Lookups are
// case-insensitive; an empty provider selects the model-only row.
func (s *Store) LookupCapability(ctx context.Context, provider, model string) (int, bool, error) {
	var maxTokens int
	err := s.db.QueryRowContext(ctx,
		`SELECT max_output_tokens FROM model_capabilities WHERE provider = ? AND model = ?`,
		strings.ToLower(provider), strings.ToLower(model),
	).Scan(&maxTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query capability: %w", err)
	}
	return maxTokens, true, nil
}

// UpsertCapability inserts or replaces one capability row.
func (s *Store) UpsertCapability(ctx context.Context, c domain.ModelCapability) error {
	if c.ModelID == "" {
		return fmt.Errorf("capability model is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_capabilities (provider, model, max_output_tokens, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider, model) DO UPDATE SET
			max_output_tokens = excluded.max_output_tokens,
			updated_at = excluded.updated_at`,
		strings.ToLower(string(c.Provider)), strings.ToLower(c.ModelID), c.MaxOutputTokens, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert capability: %w", err)
	}
	return nil
}

// GetLatest returns the newest stored system instruction, or "".
func (s *Store) GetLatest(ctx context.Context) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM system_instructions ORDER BY rowid DESC LIMIT 1`,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query system instruction: %w", err)
	}
	return content, nil
}

// SaveInstruction appends a system instruction.
func (s *Store) SaveInstruction(ctx context.Context, content string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_instructions (id, content, created_at) VALUES (?, ?, ?)`,
		id, content, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save system instruction: %w", err)
	}
	return id, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
