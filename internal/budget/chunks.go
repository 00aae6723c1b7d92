package budget

import (
	"sort"
	"strings"
	"unicode"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

const (
	// maxKeywords caps how many query words score a chunk.
	maxKeywords = 5
	// minKeywordLen excludes short words such as "what" and "the".
	minKeywordLen = 4
)

// SplitJoined turns a pre-joined chunk string into blocks separated by blank lines.
func SplitJoined(joined string) []domain.Chunk {
	var blocks []domain.Chunk
	for _, part := range strings.Split(strings.ReplaceAll(joined, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		blocks = append(blocks, domain.Chunk{Content: part})
	}
	return blocks
}

// Keywords extracts up to five lower-cased words longer than three
// characters from query, in order of first appearance.
func Keywords(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	var keywords []string
	for _, w := range words {
		if len([]rune(w)) < minKeywordLen || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// FilterChunks keeps at most maxChunks candidates. When the input already
// fits it is returned as is, in original order. Otherwise candidates are
// ranked by how many query keywords they contain; ties keep their original
// relative order.
func FilterChunks(chunks []domain.Chunk, query string, maxChunks int) []domain.Chunk {
	if maxChunks <= 0 || len(chunks) <= maxChunks {
		return chunks
	}

	keywords := Keywords(query)
	type scored struct {
		chunk domain.Chunk
		score int
	}
	ranked := make([]scored, len(chunks))
	for i, c := range chunks {
		lower := strings.ToLower(c.Content)
		score := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		ranked[i] = scored{chunk: c, score: score}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]domain.Chunk, maxChunks)
	for i := range out {
		out[i] = ranked[i].chunk
	}
	return out
}

// JoinChunks renders chunks as prompt text, prefixing labelled chunks with
// their source and separating blocks with a blank line.
func JoinChunks(chunks []domain.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		content := strings.TrimSpace(c.Content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if c.SourceLabel != "" {
			b.WriteString("[Source: ")
			b.WriteString(c.SourceLabel)
			b.WriteString("]\n")
		}
		b.WriteString(content)
	}
	return b.String()
}
