package budget

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/tokens"
)

func TestTrim_WithinBudgetUnchanged(t *testing.T) {
	text := strings.Repeat("a", 400)
	if got := Trim(text, 100); got != text {
		t.Fatalf("expected unchanged text, got %d chars", len(got))
	}
}

func TestTrim_Proportional(t *testing.T) {
	// 3000 estimated tokens trimmed to a 200 token budget.
	text := strings.Repeat("abcd", 3000)
	got := Trim(text, 200)

	if !strings.HasSuffix(got, TruncationMarker) {
		t.Fatalf("expected truncation marker suffix, got %q", got[len(got)-10:])
	}
	kept := len(got) - len(TruncationMarker)
	want := len(text) * 200 / 3000
	if kept > want || kept < want-len(TruncationMarker) {
		t.Errorf("kept %d chars, want about %d", kept, want)
	}
	if !strings.HasPrefix(text, got[:kept]) {
		t.Error("trimmed text must be a leading substring")
	}
}

func TestTrim_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"short",
		strings.Repeat("x", 17),
		strings.Repeat("word ", 999),
		strings.Repeat("é", 501),
		strings.Repeat("日本語", 333),
	}
	budgets := []int{0, 1, 2, 3, 7, 50, 200, 5000}

	for _, in := range inputs {
		for _, n := range budgets {
			once := Trim(in, n)
			twice := Trim(once, n)
			if once != twice {
				t.Errorf("Trim not idempotent for len=%d budget=%d: %d vs %d chars", len(in), n, len(once), len(twice))
			}
			if tokens.EstimateTokens(once) > n && n > 0 {
				t.Errorf("trimmed output exceeds budget for len=%d budget=%d", len(in), n)
			}
		}
	}
}

func TestTruncateBytes(t *testing.T) {
	if got := TruncateBytes("hello", 10, "[cut]"); got != "hello" {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := TruncateBytes("hello world", 5, "[cut]"); got != "hello[cut]" {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := TruncateBytes("héllo", 2, ""); got != "h" {
		t.Errorf("expected rune-safe cut, got %q", got)
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("What is the penalty under section 420 for cheating, penalty again? extra words here")
	want := []string{"what", "penalty", "under", "section", "cheating"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keywords() = %v, want %v", got, want)
	}
}

func TestFilterChunks_FitsReturnsInput(t *testing.T) {
	chunks := []domain.Chunk{
		{Content: "first", SourceLabel: "a.pdf"},
		{Content: "second", SourceLabel: "b.pdf"},
	}
	got := FilterChunks(chunks, "anything", 5)
	if !reflect.DeepEqual(got, chunks) {
		t.Errorf("expected input unchanged, got %+v", got)
	}
}

func TestFilterChunks_RanksByKeywords(t *testing.T) {
	chunks := []domain.Chunk{
		{Content: "weather report for the coast"},
		{Content: "contract termination clause and notice period"},
		{Content: "unrelated recipe"},
		{Content: "termination notice"},
	}
	got := FilterChunks(chunks, "termination notice period", 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Content != chunks[1].Content || got[1].Content != chunks[3].Content {
		t.Errorf("unexpected ranking: %+v", got)
	}
}

func TestFilterChunks_TiesKeepOrder(t *testing.T) {
	var chunks []domain.Chunk
	for i := 0; i < 6; i++ {
		chunks = append(chunks, domain.Chunk{Content: fmt.Sprintf("block %d", i)})
	}
	got := FilterChunks(chunks, "nothing matches", 3)
	for i, c := range got {
		if c.Content != chunks[i].Content {
			t.Errorf("position %d: got %q, want %q", i, c.Content, chunks[i].Content)
		}
	}
}

func TestFilterChunks_Cap(t *testing.T) {
	for n := 0; n < 12; n++ {
		chunks := make([]domain.Chunk, n)
		for i := range chunks {
			chunks[i] = domain.Chunk{Content: fmt.Sprintf("chunk about topic %d", i)}
		}
		for k := 1; k < 8; k++ {
			got := FilterChunks(chunks, "topic", k)
			limit := k
			if n > limit {
				limit = n
			}
			if len(got) > limit || len(got) > n {
				t.Errorf("n=%d k=%d: got %d chunks", n, k, len(got))
			}
		}
	}
}

func TestSplitJoined(t *testing.T) {
	got := SplitJoined("one\nline two\n\n\n\nthree\r\n\r\nfour")
	if len(got) != 3 {
		t.Fatalf("expected 3 blocks, got %d: %+v", len(got), got)
	}
	if got[0].Content != "one\nline two" {
		t.Errorf("unexpected first block %q", got[0].Content)
	}
}

func TestJoinChunks(t *testing.T) {
	got := JoinChunks([]domain.Chunk{
		{Content: " alpha ", SourceLabel: "doc1"},
		{Content: ""},
		{Content: "beta"},
	})
	want := "[Source: doc1]\nalpha\n\nbeta"
	if got != want {
		t.Errorf("JoinChunks() = %q, want %q", got, want)
	}
}
