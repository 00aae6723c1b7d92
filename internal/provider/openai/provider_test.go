package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tjfontaine/polyglot-dispatch/internal/config"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider/registry"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4.1",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Paris."}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 11, "completion_tokens": 2, "total_tokens": 13}
}`

func TestProvider_Generate(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	}))
	defer server.Close()

	p := NewProvider("test-key", WithProviderBaseURL(server.URL))
	res, err := p.Generate(context.Background(), &domain.ProviderCall{
		Model:           "gpt-4.1",
		Convention:      domain.ConventionChat,
		System:          "Be brief.",
		Prompt:          "Capital of France?",
		MaxOutputTokens: 512,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "Paris." || res.InputTokens != 11 || res.OutputTokens != 2 || res.Model != "gpt-4.1" {
		t.Errorf("unexpected result %+v", res)
	}

	if got["max_tokens"] != float64(512) {
		t.Errorf("max_tokens = %v", got["max_tokens"])
	}
	if _, ok := got["max_completion_tokens"]; ok {
		t.Error("chat convention must not send max_completion_tokens")
	}
	messages, _ := got["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system + user messages, got %v", got["messages"])
	}
}

func TestProvider_MaxCompletionTokensConvention(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	}))
	defer server.Close()

	p := NewProvider("k", WithProviderBaseURL(server.URL))
	_, err := p.Generate(context.Background(), &domain.ProviderCall{
		Model:           "gpt-5",
		Convention:      domain.ConventionChatCompletion,
		Prompt:          "hi",
		MaxOutputTokens: 128000,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got["max_completion_tokens"] != float64(128000) {
		t.Errorf("max_completion_tokens = %v", got["max_completion_tokens"])
	}
	if _, ok := got["max_tokens"]; ok {
		t.Error("max_completion_tokens convention must not send max_tokens")
	}
}

func TestProvider_GenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.ErrorType
	}{
		{"rate limit", 429, `{"error":{"message":"Rate limit reached","type":"requests"}}`, domain.ErrorTypeTransient},
		{"context length", 400, `{"error":{"message":"This model's maximum context length is 128000 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`, domain.ErrorTypeModelIncompatible},
		{"unknown model", 404, `{"error":{"message":"The model does not exist","type":"invalid_request_error"}}`, domain.ErrorTypeModelIncompatible},
		{"bad key", 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, domain.ErrorTypeAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			p := NewProvider("k", WithProviderBaseURL(server.URL))
			_, err := p.Generate(context.Background(), &domain.ProviderCall{Model: "gpt-4.1", Prompt: "x"})
			if got := domain.TypeOf(err); got != tt.want {
				t.Errorf("TypeOf(%v) = %s, want %s", err, got, tt.want)
			}
		})
	}
}

func TestProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"deepseek-chat\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"deepseek-chat\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"deepseek-chat\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewProvider("k", WithName("deepseek"), WithProviderBaseURL(server.URL))
	events, err := p.Stream(context.Background(), &domain.ProviderCall{Model: "deepseek-chat", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var text string
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		text += ev.Text
	}
	if text != "Hello" {
		t.Errorf("streamed text = %q, want Hello", text)
	}
}

func TestProvider_StreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"Server is overloaded","type":"server_error"}}`)
	}))
	defer server.Close()

	p := NewProvider("k", WithProviderBaseURL(server.URL))
	_, err := p.Stream(context.Background(), &domain.ProviderCall{Model: "gpt-4.1", Prompt: "hi"})
	if !domain.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestDeepSeekFactory(t *testing.T) {
	registry.ClearFactories()
	defer registry.ClearFactories()

	RegisterProviderFactory()
	RegisterDeepSeekFactory()
	RegisterDeepSeekFactory()

	if len(registry.ListFactories()) != 2 {
		t.Fatalf("expected two factories, got %d", len(registry.ListFactories()))
	}
	if err := registry.ValidateProviderConfig(domain.ProviderDeepSeek, config.ProviderConfig{}); err == nil {
		t.Error("expected missing credential error")
	}

	p, err := registry.CreateFromFactory(domain.ProviderDeepSeek, config.ProviderConfig{APIKey: "k"}, registry.FactoryOptions{})
	if err != nil {
		t.Fatalf("CreateFromFactory() error = %v", err)
	}
	if p.Name() != "deepseek" {
		t.Errorf("Name() = %q, want deepseek", p.Name())
	}
}
