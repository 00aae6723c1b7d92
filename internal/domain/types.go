package domain

// ProviderIdentity is the canonical key of a text-generation vendor.
type ProviderIdentity string

const (
	ProviderGemini    ProviderIdentity = "gemini"
	ProviderAnthropic ProviderIdentity = "anthropic"
	ProviderOpenAI    ProviderIdentity = "openai"
	ProviderDeepSeek  ProviderIdentity = "deepseek"
)

// String returns the identity key.
func (p ProviderIdentity) String() string {
	return string(p)
}

// Chunk is a retrieved fragment of source-document text.
type Chunk struct {
	Content     string `json:"content"`
	SourceLabel string `json:"source_label,omitempty"`
}

// GenerationRequest is the immutable input to one dispatch call.
type GenerationRequest struct {
	ProviderAlias   string  `json:"provider"`
	UserMessage     string  `json:"message"`
	FreeContext     string  `json:"context,omitempty"`
	RetrievedChunks []Chunk `json:"chunks,omitempty"`
	// OriginalQuestion is the user's question before any caller-side
	// augmentation. When set it is used as the web-search query.
	OriginalQuestion string `json:"original_question,omitempty"`
}

// Convention names the request shape a model expects.
type Convention string

const (
	ConventionChat           Convention = "chat"
	ConventionMessages       Convention = "messages"
	ConventionGenerate       Convention = "generate_content"
	ConventionChatCompletion Convention = "max_completion_tokens"
)

// ModelSpec is one entry of a model chain.
type ModelSpec struct {
	ID         string     `json:"id" koanf:"id"`
	Convention Convention `json:"convention,omitempty" koanf:"convention"`
	// Fragile marks newer variants whose oversized-request and network
	// failures are treated as model incompatibility rather than fatal.
	Fragile bool `json:"fragile,omitempty" koanf:"fragile"`
}

// ModelChain is the ordered list of models tried for a provider. Earlier
// entries are preferred. A valid chain is never empty.
type ModelChain []ModelSpec

// IDs returns the model identifiers in chain order.
func (c ModelChain) IDs() []string {
	ids := make([]string, len(c))
	for i, m := range c {
		ids[i] = m.ID
	}
	return ids
}

// ModelCapability records the output-token ceiling of a provider+model pair.
type ModelCapability struct {
	Provider        ProviderIdentity `json:"provider"`
	ModelID         string           `json:"model"`
	MaxOutputTokens int              `json:"max_output_tokens"`
}

// SourceKind identifies a contributor to an assembled prompt.
type SourceKind string

const (
	SourceDocuments SourceKind = "documents"
	SourceProfile   SourceKind = "profile"
	SourceWeb       SourceKind = "web"
	SourceURL       SourceKind = "url"
)

// AssembledPrompt is the final request body plus its system instruction.
type AssembledPrompt struct {
	Body              string       `json:"body"`
	SystemInstruction string       `json:"system_instruction"`
	SourceLabels      []SourceKind `json:"source_labels,omitempty"`
}

// CitationEntry is a structured reference surfaced from a web search.
type CitationEntry struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// DispatchOutcome is the result of a one-shot generation call.
type DispatchOutcome struct {
	Text         string          `json:"text"`
	Provider     string          `json:"provider"`
	UsedModel    string          `json:"used_model"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Estimated    bool            `json:"usage_estimated,omitempty"`
	Citations    []CitationEntry `json:"citations,omitempty"`
}

// Fragment is one piece of incrementally produced text.
type Fragment struct {
	Text string `json:"text"`
}

// ProviderStatus describes whether a provider alias can be used.
type ProviderStatus struct {
	Available bool   `json:"available"`
	Model     string `json:"model"`
	Reason    string `json:"reason"`
}
