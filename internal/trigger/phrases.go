package trigger

import (
	"strings"
	"unicode"
)

// PhraseSet matches normalized phrases on word boundaries.
type PhraseSet struct {
	phrases []string
}

// NewPhraseSet normalizes phrases once so matching is a plain substring scan.
func NewPhraseSet(phrases ...string) *PhraseSet {
	s := &PhraseSet{phrases: make([]string, 0, len(phrases))}
	for _, p := range phrases {
		if n := normalize(p); strings.TrimSpace(n) != "" {
			s.phrases = append(s.phrases, n)
		}
	}
	return s
}

// Match reports the first phrase found in text. text must come from normalize.
func (s *PhraseSet) Match(text string) (string, bool) {
	for _, p := range s.phrases {
		if strings.Contains(text, p) {
			return strings.TrimSpace(p), true
		}
	}
	return "", false
}

// Len returns the number of phrases in the set.
func (s *PhraseSet) Len() int { return len(s.phrases) }

// normalize lower-cases text, folds curly apostrophes, turns punctuation into
// spaces and pads the result so phrases match on whole words.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '’' || r == '\'':
			b.WriteByte('\'')
			space = false
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// Phrase tables. Order inside a table does not matter; order between tables
// is fixed by the rule list in classifier.go.
var (
	// ExplicitPhrases denote a deliberate request to use the web.
	ExplicitPhrases = NewPhraseSet(
		"search the web", "search web", "search online", "search the internet",
		"search internet", "web search", "internet search", "from the internet",
		"from internet", "on the internet", "from the web", "on the web",
		"browse the web", "look it up online", "look up online", "google it",
		"google this", "check online", "find online",
		// Hindi / Hinglish
		"internet se", "internet par", "internet pe", "web se", "web par",
		"online dekho", "online batao", "google karo",
		// Spanish
		"busca en internet", "buscar en internet", "busca en la web",
		"buscar en la web", "en internet",
	)

	// RejectionPhrases refuse answers drawn from the uploaded documents.
	RejectionPhrases = NewPhraseSet(
		"don't want from document", "dont want from document",
		"don't want from the document", "dont want from the document",
		"ignore document", "ignore the document", "ignore documents",
		"ignore the documents", "not from document", "not from the document",
		"not from documents", "without document", "without the document",
		"outside the document", "outside the documents",
		"document ke bahar", "document se nahi",
		"no del documento", "ignora el documento",
	)

	// NegationPhrases combine with the word "document" to form a rejection.
	// Localized entries are multi-word; "sin" and "mat" alone are English words.
	NegationPhrases = NewPhraseSet(
		"don't", "dont", "do not", "not from", "without", "except",
		"nahi", "mat karo", "mat use", "mat lo",
		"sin el", "sin los", "sin usar", "no uses",
	)

	// PersonalPronouns are first-person possessives. Spanish "mi" and "mis"
	// collide with product names and are covered by PersonalPhrases instead.
	PersonalPronouns = NewPhraseSet(
		"my", "mine", "myself",
		"mera", "meri", "mere",
	)

	// PersonalPhrases refer to the user's own profile or case data.
	PersonalPhrases = NewPhraseSet(
		"my case", "my case number", "my profile", "my details", "my information",
		"my documents", "my document", "my file", "my files", "my account",
		"my application", "my order", "my record", "my records", "my history",
		"mera case", "meri details", "meri file",
		"mi caso", "mis datos", "mi perfil", "mi cuenta", "mi solicitud",
		"mi expediente", "mis documentos", "mi pedido",
	)

	// CurrentPhrases mark questions whose answer changes over time.
	CurrentPhrases = NewPhraseSet(
		"today", "today's", "tonight", "right now", "currently", "current price",
		"current news", "current status", "latest", "recent", "recently", "news",
		"this week", "this month", "this year", "breaking", "live score",
		"stock price", "share price", "exchange rate", "weather", "as of now",
		"up to date", "up-to-date", "trending",
		"aaj", "abhi", "aaj kal",
		"hoy", "últimas noticias", "actualmente",
	)

	// KnowledgePhrases mark generic knowledge questions.
	KnowledgePhrases = NewPhraseSet(
		"what is", "what are", "what was", "what were", "what's", "who is",
		"who was", "who are", "where is", "when did", "when was", "how does",
		"how do", "how many", "why is", "why do", "explain", "define",
		"definition of", "meaning of", "tell me about",
		"kya hai", "kaun hai", "kya hota hai",
		"qué es", "quién es", "explica",
	)

	// DocumentPhrases refer to the supplied document context.
	DocumentPhrases = NewPhraseSet(
		"in the document", "in this document", "in the documents", "the document",
		"this document", "according to", "as per", "based on the", "from the document",
		"from the pdf", "in the pdf", "in the file", "uploaded", "attached",
		"summarize", "summarise", "summary of",
		"document mein", "document me",
		"en el documento", "resumen",
	)
)

// documentWord is checked alongside NegationPhrases.
var documentWord = NewPhraseSet("document", "documents", "doc", "docs", "pdf", "documento")
