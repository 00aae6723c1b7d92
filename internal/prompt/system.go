package prompt

import "strings"

// Template names the source-attribution paragraph chosen for a prompt.
type Template string

const (
	TemplateExplicitWeb  Template = "explicit_web"
	TemplateDocumentsWeb Template = "documents_and_web"
	TemplateWebOnly      Template = "web_only"
	TemplateDocuments    Template = "documents"
)

var templates = map[Template]string{
	TemplateExplicitWeb: "The user explicitly requested information from the internet. " +
		"Treat the web search results and fetched pages in the prompt as your primary sources, " +
		"open your answer with \"" + WebAttributionPrefix + "\" and cite results by their [number]. " +
		"Use the user's documents only as supporting reference.",
	TemplateDocumentsWeb: "The prompt contains the user's documents together with web material. " +
		"Prefer the documents for questions about the user's own files, use the web material for " +
		"general or current facts, and attribute every fact to either [Document: <source>] or a web [number].",
	TemplateWebOnly: "The prompt contains web search results or fetched pages but no user documents. " +
		"Answer from that material, cite it by [number] or [URL: <address>], and say when it does not cover the question.",
	TemplateDocuments: "Answer from the user's documents and context when they are provided, citing them as " +
		"[Document: <source>]. When they do not contain the answer, say so before using general knowledge.",
}

// SelectTemplate picks exactly one attribution paragraph.
func SelectTemplate(s Sources) Template {
	web := s.hasWeb() || s.hasURLContent()
	switch {
	case s.Explicit && web:
		return TemplateExplicitWeb
	case s.hasDocuments() && web:
		return TemplateDocumentsWeb
	case web:
		return TemplateWebOnly
	default:
		return TemplateDocuments
	}
}

// SystemInstruction appends the selected attribution paragraph to base.
func SystemInstruction(base string, s Sources) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBaseInstruction
	}
	return base + "\n\n" + templates[SelectTemplate(s)]
}
