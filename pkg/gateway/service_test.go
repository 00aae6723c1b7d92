package gateway

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/tjfontaine/polyglot-dispatch/internal/dispatch"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/fetch"
	"github.com/tjfontaine/polyglot-dispatch/internal/prompt"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider"
	"github.com/tjfontaine/polyglot-dispatch/internal/search"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	calls     []dispatch.Call
	text      string
	err       error
	fragments []string
}

func (f *fakeDispatcher) Generate(_ context.Context, call dispatch.Call) (*domain.DispatchOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DispatchOutcome{Text: f.text, Provider: string(call.Provider), UsedModel: "model-a"}, nil
}

func (f *fakeDispatcher) Stream(_ context.Context, call dispatch.Call) iter.Seq2[domain.Fragment, error] {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return func(yield func(domain.Fragment, error) bool) {
		for _, text := range f.fragments {
			if !yield(domain.Fragment{Text: text}, nil) {
				return
			}
		}
	}
}

func (f *fakeDispatcher) lastCall(t *testing.T) dispatch.Call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("dispatcher was not called")
	}
	return f.calls[len(f.calls)-1]
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	result  *search.Result
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) *search.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.result
}

type fakeFetcher struct {
	mu    sync.Mutex
	urls  []string
	pages map[string]fetch.Result
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) fetch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if r, ok := f.pages[url]; ok {
		return r
	}
	return fetch.Result{URL: url}
}

type fakeInstructions struct {
	latest string
	err    error
}

func (f fakeInstructions) GetLatest(context.Context) (string, error) {
	return f.latest, f.err
}

type fakeCatalog map[domain.ProviderIdentity]bool

func (c fakeCatalog) Get(id domain.ProviderIdentity) (domain.Provider, bool) {
	return nil, c[id]
}

func (c fakeCatalog) Reason(id domain.ProviderIdentity) string {
	if c[id] {
		return "configured"
	}
	return "missing credential"
}

var webResult = &search.Result{
	FormattedText: "Web search results for \"gst rate\":\n\n[1] GST Council\nURL: https://gst.gov.in/rates",
	Citations: []domain.CitationEntry{
		{Index: 1, Title: "GST Council", URL: "https://gst.gov.in/rates"},
	},
}

func newTestService(d Dispatcher, opts ...Option) *Service {
	return NewService(d, provider.NewResolver(domain.ProviderGemini, nil), fakeCatalog{domain.ProviderGemini: true}, provider.NewChains(nil), opts...)
}

func TestService_GenerateAttachesCitations(t *testing.T) {
	d := &fakeDispatcher{text: "The standard rate is 18%."}
	svc := newTestService(d, WithSearch(&fakeSearcher{result: webResult}, 5))

	out, err := svc.Generate(context.Background(), domain.GenerationRequest{
		ProviderAlias: "claude",
		UserMessage:   "what is the latest gst rate?",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if !strings.HasPrefix(out.Text, "The standard rate is 18%.\n\nSources Referenced:") {
		t.Errorf("expected citation block after answer, got %q", out.Text)
	}
	if !strings.Contains(out.Text, "[1] GST Council (https://gst.gov.in/rates)") {
		t.Errorf("missing citation line: %q", out.Text)
	}
	if len(out.Citations) != 1 {
		t.Errorf("expected structured citations, got %+v", out.Citations)
	}

	call := d.lastCall(t)
	if call.Provider != domain.ProviderAnthropic {
		t.Errorf("provider = %s, want anthropic", call.Provider)
	}
	if !strings.Contains(call.Prompt, "WEB SEARCH RESULTS") {
		t.Errorf("web results missing from prompt: %q", call.Prompt)
	}
}

func TestService_NoSearchForPersonalData(t *testing.T) {
	d := &fakeDispatcher{text: "Your case is pending."}
	s := &fakeSearcher{result: webResult}
	svc := newTestService(d, WithSearch(s, 5))

	out, err := svc.Generate(context.Background(), domain.GenerationRequest{
		UserMessage: "what is the latest status of my case",
		FreeContext: "Case 42 is pending review.",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(s.queries) != 0 {
		t.Errorf("personal question must not be searched, got %v", s.queries)
	}
	if out.Text != "Your case is pending." || len(out.Citations) != 0 {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestService_SearchUsesOriginalQuestion(t *testing.T) {
	s := &fakeSearcher{}
	svc := newTestService(&fakeDispatcher{text: "ok"}, WithSearch(s, 5))

	_, err := svc.Generate(context.Background(), domain.GenerationRequest{
		UserMessage:      "Context: long preamble. Question: search the web for gst news",
		OriginalQuestion: "gst news",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(s.queries) != 1 || s.queries[0] != "gst news" {
		t.Errorf("expected search for original question, got %v", s.queries)
	}
}

func TestService_SearchFailureDegrades(t *testing.T) {
	d := &fakeDispatcher{text: "answer"}
	svc := newTestService(d, WithSearch(&fakeSearcher{result: nil}, 5))

	out, err := svc.Generate(context.Background(), domain.GenerationRequest{
		UserMessage: "search the web for today's weather",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Text != "answer" {
		t.Errorf("text = %q, want no citation block", out.Text)
	}
	if strings.Contains(d.lastCall(t).Prompt, "WEB SEARCH RESULTS") {
		t.Error("prompt must not mention web results when search returned nothing")
	}
}

func TestService_FetchesPastedURL(t *testing.T) {
	d := &fakeDispatcher{text: "summary"}
	f := &fakeFetcher{pages: map[string]fetch.Result{
		"https://example.com/notice": {
			URL:     "https://example.com/notice",
			Title:   "Notice",
			Content: "The office is closed on Friday.",
			Success: true,
		},
	}}
	svc := newTestService(d, WithFetcher(f))

	_, err := svc.Generate(context.Background(), domain.GenerationRequest{
		UserMessage:     "read https://example.com/notice and tell me when it is closed",
		RetrievedChunks: []domain.Chunk{{Content: "Unrelated policy text.", SourceLabel: "policy.pdf"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	call := d.lastCall(t)
	if !strings.Contains(call.Prompt, "PRIMARY SOURCE: CONTENT FROM https://example.com/notice") {
		t.Errorf("expected fetched page as primary source, got %q", call.Prompt)
	}
	if !strings.Contains(call.Prompt, "SECONDARY REFERENCE: USER DOCUMENTS") {
		t.Errorf("expected documents demoted to secondary, got %q", call.Prompt)
	}
	if !strings.Contains(call.Prompt, prompt.WebAttributionPrefix) {
		t.Error("explicit prompt must carry the attribution instruction")
	}
}

func TestService_InstructionSource(t *testing.T) {
	tests := []struct {
		name   string
		source fakeInstructions
		want   string
	}{
		{"stored instruction wins", fakeInstructions{latest: "Stored instruction."}, "Stored instruction."},
		{"empty store uses fallback", fakeInstructions{}, "Configured instruction."},
		{"failing store uses fallback", fakeInstructions{err: errors.New("database is locked")}, "Configured instruction."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{text: "ok"}
			svc := newTestService(d, WithInstructionSource(tt.source, "Configured instruction."))
			if _, err := svc.Generate(context.Background(), domain.GenerationRequest{UserMessage: "hello"}); err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if system := d.lastCall(t).System; !strings.HasPrefix(system, tt.want) {
				t.Errorf("system instruction = %q, want prefix %q", system, tt.want)
			}
		})
	}
}

func TestService_GenerateError(t *testing.T) {
	exhausted := domain.ErrAllModelsExhausted("gemini", []domain.ModelFailure{
		{Model: "gemini-2.5-pro", Err: domain.ErrTransient("overloaded")},
	})
	svc := newTestService(&fakeDispatcher{err: exhausted})

	out, err := svc.Generate(context.Background(), domain.GenerationRequest{UserMessage: "hi"})
	if out != nil {
		t.Errorf("expected no outcome, got %+v", out)
	}
	if domain.TypeOf(err) != domain.ErrorTypeAllModelsExhausted {
		t.Errorf("expected all_models_exhausted, got %v", err)
	}
}

func TestService_PinnedModel(t *testing.T) {
	d := &fakeDispatcher{text: "ok"}
	svc := newTestService(d)

	if _, err := svc.Generate(context.Background(), domain.GenerationRequest{ProviderAlias: "claude-opus-4.1", UserMessage: "hi"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	call := d.lastCall(t)
	if call.Provider != domain.ProviderAnthropic || call.PreferredModel != "claude-opus-4-1" {
		t.Errorf("unexpected call %+v", call)
	}
}

func TestService_ChunksAreFilteredAndTrimmed(t *testing.T) {
	chunks := make([]domain.Chunk, 0, 12)
	for i := 0; i < 11; i++ {
		chunks = append(chunks, domain.Chunk{Content: "filler paragraph about nothing", SourceLabel: "doc"})
	}
	chunks = append(chunks, domain.Chunk{Content: "termination requires ninety days notice", SourceLabel: "contract"})

	svc := newTestService(&fakeDispatcher{})
	p := svc.prepare(context.Background(), domain.GenerationRequest{
		UserMessage:     "what does the termination clause require",
		RetrievedChunks: chunks,
	})

	if !strings.Contains(p.prompt.Body, "[Source: contract]") {
		t.Errorf("relevant chunk was dropped: %q", p.prompt.Body)
	}
	if n := strings.Count(p.prompt.Body, "[Source: "); n != 10 {
		t.Errorf("expected 10 chunks after filtering, got %d", n)
	}
}

func TestService_GenerateStream(t *testing.T) {
	d := &fakeDispatcher{fragments: []string{"Hel", "lo"}}
	svc := newTestService(d, WithSearch(&fakeSearcher{result: webResult}, 5))

	st := svc.GenerateStream(context.Background(), domain.GenerationRequest{UserMessage: "latest gst news"})

	var text string
	for frag, err := range st.Fragments {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		text += frag.Text
	}
	if text != "Hello" {
		t.Errorf("streamed text = %q, must not carry a citation block", text)
	}
	if len(st.Citations) != 1 {
		t.Errorf("expected citations out of band, got %+v", st.Citations)
	}
	if st.Provider != domain.ProviderGemini {
		t.Errorf("provider = %s", st.Provider)
	}
}

func TestService_Resolve(t *testing.T) {
	svc := newTestService(&fakeDispatcher{})

	if got := svc.ResolveProviderAlias("  GPT "); got != domain.ProviderOpenAI {
		t.Errorf("ResolveProviderAlias = %s, want openai", got)
	}
	if got := svc.ResolveProviderAlias("no-such-vendor"); got != domain.ProviderGemini {
		t.Errorf("unknown alias = %s, want default gemini", got)
	}

	res := svc.Resolve("claude-haiku")
	if res.Provider != domain.ProviderAnthropic || res.Model != "claude-3-5-haiku-latest" || res.Fallback {
		t.Errorf("Resolve(claude-haiku) = %+v", res)
	}
	res = svc.Resolve("deepseek")
	if res.Model != "deepseek-chat" {
		t.Errorf("Resolve(deepseek) model = %q, want first chain entry", res.Model)
	}
}

func TestService_ListAvailableProviders(t *testing.T) {
	svc := newTestService(&fakeDispatcher{})

	got := svc.ListAvailableProviders()
	if len(got) != 4 {
		t.Fatalf("expected 4 providers, got %d", len(got))
	}
	if g := got["gemini"]; !g.Available || g.Reason != "configured" || g.Model != "gemini-2.5-pro" {
		t.Errorf("gemini = %+v", g)
	}
	if o := got["openai"]; o.Available || o.Reason != "missing credential" || o.Model != "gpt-5" {
		t.Errorf("openai = %+v", o)
	}
}
