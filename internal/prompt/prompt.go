// Package prompt merges trimmed context, document chunks, fetched URL content
// and web-search results into the final request body and system instruction.
package prompt

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// DefaultBaseInstruction is used when no instruction is configured.
const DefaultBaseInstruction = "You are a knowledgeable assistant. Answer accurately and concisely, and say so when the available information is insufficient."

// WebAttributionPrefix opens answers to explicit web requests.
const WebAttributionPrefix = "Based on current web sources,"

// URLContent is the readable text of one fetched page.
type URLContent struct {
	URL     string
	Title   string
	Content string
}

// Sources is everything that may contribute to one prompt.
type Sources struct {
	Question   string
	Documents  string
	Profile    string
	URLs       []URLContent
	WebResults string
	// Explicit is set when the user deliberately asked for web content.
	Explicit bool
}

func (s Sources) hasDocuments() bool { return strings.TrimSpace(s.Documents) != "" }
func (s Sources) hasProfile() bool { return strings.TrimSpace(s.Profile) != "" }
func (s Sources) hasWeb() bool { return strings.TrimSpace(s.WebResults) != "" }

func (s Sources) hasURLContent() bool {
	for _, u := range s.URLs {
		if strings.TrimSpace(u.Content) != "" {
			return true
		}
	}
	return false
}

// Labels lists the contributing source kinds in a fixed order.
func (s Sources) Labels() []domain.SourceKind {
	var labels []domain.SourceKind
	if s.hasDocuments() {
		labels = append(labels, domain.SourceDocuments)
	}
	if s.hasProfile() {
		labels = append(labels, domain.SourceProfile)
	}
	if s.hasURLContent() {
		labels = append(labels, domain.SourceURL)
	}
	if s.hasWeb() {
		labels = append(labels, domain.SourceWeb)
	}
	return labels
}

// Assemble builds the prompt body. base is the externally configured
// instruction and may be empty.
func Assemble(base string, s Sources) domain.AssembledPrompt {
	var body string
	if s.Explicit && (s.hasWeb() || s.hasURLContent()) {
		body = assembleExplicit(s)
	} else {
		body = assembleNormal(s)
	}
	return domain.AssembledPrompt{
		Body:              body,
		SystemInstruction: SystemInstruction(base, s),
		SourceLabels:      s.Labels(),
	}
}

func section(b *strings.Builder, heading, content string) {
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(b, "=== %s ===\n%s", heading, strings.TrimSpace(content))
}

func urlHeading(prefix string, u URLContent) string {
	if u.Title != "" {
		return fmt.Sprintf("%sCONTENT FROM %s (%s)", prefix, u.URL, u.Title)
	}
	return fmt.Sprintf("%sCONTENT FROM %s", prefix, u.URL)
}

func writeQuestion(b *strings.Builder, question string) {
	if strings.TrimSpace(question) == "" {
		return
	}
	b.WriteString("\n\nUSER QUESTION:\n")
	b.WriteString(strings.TrimSpace(question))
}

// assembleExplicit puts web material first and documents last.
func assembleExplicit(s Sources) string {
	var b strings.Builder
	for _, u := range s.URLs {
		if strings.TrimSpace(u.Content) != "" {
			section(&b, urlHeading("PRIMARY SOURCE: ", u), u.Content)
		}
	}
	if s.hasWeb() {
		section(&b, "PRIMARY SOURCE: WEB SEARCH RESULTS", s.WebResults)
	}
	if s.hasDocuments() {
		section(&b, "SECONDARY REFERENCE: USER DOCUMENTS", s.Documents)
	}
	if s.hasProfile() {
		section(&b, "SECONDARY REFERENCE: USER CONTEXT", s.Profile)
	}

	b.WriteString("\n\nINSTRUCTIONS:\n")
	b.WriteString("The user explicitly asked for information from the web. ")
	b.WriteString("Base your answer on the PRIMARY SOURCE sections and use SECONDARY REFERENCE material only to add detail. ")
	b.WriteString("Where they disagree, prefer the web content. ")
	fmt.Fprintf(&b, "Begin your answer with %q and cite web results by their [number].", WebAttributionPrefix)

	writeQuestion(&b, s.Question)
	return b.String()
}

// assembleNormal puts documents first, then URL content, then web results.
func assembleNormal(s Sources) string {
	var b strings.Builder
	if s.hasDocuments() {
		section(&b, "DOCUMENT CONTEXT", s.Documents)
		b.WriteString("\nWhen you use the document context, cite it as [Document: <source>].")
	}
	if s.hasProfile() {
		section(&b, "USER CONTEXT", s.Profile)
	}
	for _, u := range s.URLs {
		if strings.TrimSpace(u.Content) != "" {
			section(&b, urlHeading("", u), u.Content)
			fmt.Fprintf(&b, "\nWhen you use this page, cite it as [URL: %s].", u.URL)
		}
	}
	if s.hasWeb() {
		section(&b, "WEB SEARCH RESULTS", s.WebResults)
		b.WriteString("\nWhen you use a web result, cite it by its [number].")
	}

	if labels := s.Labels(); len(labels) > 0 {
		names := make([]string, len(labels))
		for i, l := range labels {
			names[i] = string(l)
		}
		b.WriteString("\n\nAVAILABLE SOURCES: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\nAnswer from these sources where they are relevant and make clear which source each fact comes from.")
	}

	writeQuestion(&b, s.Question)
	return strings.TrimLeft(b.String(), "\n")
}
