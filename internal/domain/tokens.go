package domain

// TokenCounter provides token counting capabilities.
type TokenCounter interface {
	// CountText counts the tokens of a plain string for the given model.
	CountText(model, text string) (int, error)

	// SupportsModel returns true if this counter supports the given model.
	SupportsModel(model string) bool

	// Exact reports whether counts come from a real tokenizer.
	Exact() bool
}
