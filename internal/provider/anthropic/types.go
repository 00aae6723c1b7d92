package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessagesRequest represents an Anthropic Messages API request.
type MessagesRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

// Message represents a message in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesResponse represents a Messages API response.
type MessagesResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Model      string            `json:"model"`
	Content    []ResponseContent `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      MessagesUsage     `json:"usage"`
}

// Text returns the concatenated text blocks.
func (r *MessagesResponse) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ResponseContent is one content block of a response.
type ResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessagesUsage reports token usage.
type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Streaming types

// MessageStartEvent is the first event of a stream.
type MessageStartEvent struct {
	Type    string           `json:"type"`
	Message MessagesResponse `json:"message"`
}

// ContentBlockDeltaEvent carries incremental content.
type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta is the delta payload of a content block.
type BlockDelta struct {
	Type string `json:"type"` // "text_delta", "input_json_delta", "thinking_delta"
	Text string `json:"text,omitempty"`
}

// MessageDeltaEvent carries the stop reason and output usage.
type MessageDeltaEvent struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage *DeltaUsage  `json:"usage,omitempty"`
}

// MessageDelta is the delta payload of a message_delta event.
type MessageDelta struct {
	StopReason string `json:"stop_reason,omitempty"`
}

// DeltaUsage reports output tokens produced so far.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse is the body of a failed request, and of a stream "error" event.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// APIError is the error payload.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ParseErrorResponse extracts the error payload from a response body.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var resp ErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Error == nil {
		return nil, fmt.Errorf("no error payload")
	}
	return resp.Error, nil
}
