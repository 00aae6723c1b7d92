package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Capabilities(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, found, err := store.LookupCapability(ctx, "gemini", "gemini-2.5-pro"); err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}

	rows := []domain.ModelCapability{
		{Provider: domain.ProviderGemini, ModelID: "gemini-2.5-pro", MaxOutputTokens: 65536},
		{ModelID: "deepseek-chat", MaxOutputTokens: 8192},
	}
	for _, r := range rows {
		if err := store.UpsertCapability(ctx, r); err != nil {
			t.Fatalf("UpsertCapability() error = %v", err)
		}
	}

	n, found, err := store.LookupCapability(ctx, "Gemini", "GEMINI-2.5-PRO")
	if err != nil || !found || n != 65536 {
		t.Errorf("exact lookup = %d, %v, %v", n, found, err)
	}
	n, found, err = store.LookupCapability(ctx, "", "deepseek-chat")
	if err != nil || !found || n != 8192 {
		t.Errorf("model-only lookup = %d, %v, %v", n, found, err)
	}

	// Upsert replaces.
	if err := store.UpsertCapability(ctx, domain.ModelCapability{
		Provider: domain.ProviderGemini, ModelID: "gemini-2.5-pro", MaxOutputTokens: 1000,
	}); err != nil {
		t.Fatal(err)
	}
	if n, _, _ := store.LookupCapability(ctx, "gemini", "gemini-2.5-pro"); n != 1000 {
		t.Errorf("expected replaced value 1000, got %d", n)
	}
}

func TestSQLiteStore_Instructions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	got, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if got != "" {
		t.Errorf("expected empty instruction, got %q", got)
	}

	id, err := store.SaveInstruction(ctx, "You are a careful legal assistant.")
	if err != nil {
		t.Fatalf("SaveInstruction() error = %v", err)
	}
	if id == "" {
		t.Error("expected generated id")
	}
	if _, err := store.SaveInstruction(ctx, "Answer concisely."); err != nil {
		t.Fatal(err)
	}

	got, err = store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if got != "Answer concisely." {
		t.Errorf("GetLatest() = %q, want newest instruction", got)
	}
}
