package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-dispatch/internal/capability"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/retry"
)

const testProvider = domain.ProviderAnthropic

type generateFunc func(ctx context.Context, call *domain.ProviderCall, n int) (*domain.ProviderResult, error)
type streamFunc func(ctx context.Context, call *domain.ProviderCall, n int) (<-chan domain.StreamEvent, error)

// fakeProvider answers per model and counts calls per model.
type fakeProvider struct {
	mu       sync.Mutex
	calls    map[string]int
	prompts  []*domain.ProviderCall
	generate map[string]generateFunc
	stream   map[string]streamFunc
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:    make(map[string]int),
		generate: make(map[string]generateFunc),
		stream:   make(map[string]streamFunc),
	}
}

func (f *fakeProvider) Name() string { return string(testProvider) }

func (f *fakeProvider) record(call *domain.ProviderCall) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[call.Model]++
	f.prompts = append(f.prompts, call)
	return f.calls[call.Model]
}

func (f *fakeProvider) count(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

func (f *fakeProvider) Generate(ctx context.Context, call *domain.ProviderCall) (*domain.ProviderResult, error) {
	n := f.record(call)
	fn, ok := f.generate[call.Model]
	if !ok {
		return nil, domain.ErrServer("unscripted model " + call.Model)
	}
	return fn(ctx, call, n)
}

func (f *fakeProvider) Stream(ctx context.Context, call *domain.ProviderCall) (<-chan domain.StreamEvent, error) {
	n := f.record(call)
	fn, ok := f.stream[call.Model]
	if !ok {
		return nil, domain.ErrServer("unscripted model " + call.Model)
	}
	return fn(ctx, call, n)
}

type providerMap map[domain.ProviderIdentity]domain.Provider

func (m providerMap) Get(id domain.ProviderIdentity) (domain.Provider, bool) {
	p, ok := m[id]
	return p, ok
}

type chainMap map[domain.ProviderIdentity]domain.ModelChain

func (m chainMap) ChainFor(id domain.ProviderIdentity) (domain.ModelChain, bool) {
	c, ok := m[id]
	return c, ok
}

var threeModels = domain.ModelChain{{ID: "model-a"}, {ID: "model-b"}, {ID: "model-c"}}

func testCapabilities() *capability.Lookup {
	return capability.New(nil, capability.WithDefaults(map[string]int{
		"model-a": 1000,
		"model-b": 2000,
		"model-c": 3000,
	}))
}

func zeroDelayPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.BaseDelay = 0
	return p
}

func newTestEngine(p *fakeProvider, chain domain.ModelChain, opts ...Option) *Engine {
	opts = append([]Option{WithRetryPolicy(zeroDelayPolicy())}, opts...)
	return New(providerMap{testProvider: p}, chainMap{testProvider: chain}, testCapabilities(), opts...)
}

func ok(text string) generateFunc {
	return func(_ context.Context, call *domain.ProviderCall, _ int) (*domain.ProviderResult, error) {
		return &domain.ProviderResult{Text: text, Model: call.Model, InputTokens: 10, OutputTokens: 3}, nil
	}
}

func fail(err error) generateFunc {
	return func(context.Context, *domain.ProviderCall, int) (*domain.ProviderResult, error) {
		return nil, err
	}
}

func TestGenerate_FirstModelSucceeds(t *testing.T) {
	p := newFakeProvider()
	p.generate["model-a"] = ok("answer")

	out, err := newTestEngine(p, threeModels).Generate(context.Background(), Call{
		Provider: testProvider, System: "sys", Prompt: "question",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Text != "answer" || out.UsedModel != "model-a" || out.Provider != "anthropic" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.InputTokens != 10 || out.OutputTokens != 3 || out.Estimated {
		t.Errorf("unexpected usage %+v", out)
	}
	if got := p.prompts[0]; got.MaxOutputTokens != 1000 || got.System != "sys" || got.Prompt != "question" {
		t.Errorf("unexpected provider call %+v", got)
	}
}

func TestGenerate_RetriesTransientOnSameModel(t *testing.T) {
	p := newFakeProvider()
	p.generate["model-a"] = func(ctx context.Context, call *domain.ProviderCall, n int) (*domain.ProviderResult, error) {
		if n < 2 {
			return nil, domain.ErrTransient("model is overloaded")
		}
		return ok("second try")(ctx, call, n)
	}

	out, err := newTestEngine(p, threeModels).Generate(context.Background(), Call{Provider: testProvider, Prompt: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Text != "second try" || p.count("model-a") != 2 || p.count("model-b") != 0 {
		t.Errorf("expected retry on model-a, got %+v calls=%v", out, p.calls)
	}
}

func TestGenerate_ChainExhaustion(t *testing.T) {
	p := newFakeProvider()
	for _, m := range threeModels {
		p.generate[m.ID] = fail(errors.New("429 rate limit reached"))
	}

	_, err := newTestEngine(p, threeModels).Generate(context.Background(), Call{Provider: testProvider, Prompt: "q"})

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeAllModelsExhausted {
		t.Fatalf("expected all_models_exhausted, got %v", err)
	}
	for _, m := range threeModels {
		if got := p.count(m.ID); got != retry.DefaultMaxAttempts {
			t.Errorf("model %s called %d times, want %d", m.ID, got, retry.DefaultMaxAttempts)
		}
	}
	if len(apiErr.Unwrap()) != 3 {
		t.Errorf("expected three per-model causes, got %d", len(apiErr.Unwrap()))
	}
}

func TestGenerate_IncompatibleSkipsToNextModel(t *testing.T) {
	p := newFakeProvider()
	p.generate["model-a"] = fail(domain.ErrModelIncompatible("request too large"))
	p.generate["model-b"] = ok("from b")

	out, err := newTestEngine(p, threeModels).Generate(context.Background(), Call{Provider: testProvider, Prompt: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.UsedModel != "model-b" || p.count("model-a") != 1 {
		t.Errorf("expected single attempt on a then b, outcome %+v calls %v", out, p.calls)
	}
	if p.prompts[1].MaxOutputTokens != 2000 {
		t.Errorf("model-b must use its own ceiling, got %d", p.prompts[1].MaxOutputTokens)
	}
}

func TestGenerate_FatalPropagates(t *testing.T) {
	p := newFakeProvider()
	fatal := domain.ErrAuthentication("invalid x-api-key")
	p.generate["model-a"] = fail(fatal)
	p.generate["model-b"] = ok("unreachable")

	_, err := newTestEngine(p, threeModels).Generate(context.Background(), Call{Provider: testProvider, Prompt: "q"})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if p.count("model-a") != 1 || p.count("model-b") != 0 {
		t.Errorf("fatal error must stop the chain, calls %v", p.calls)
	}
}

func TestGenerate_ConfigurationMissing(t *testing.T) {
	p := newFakeProvider()
	chain := domain.ModelChain{{ID: "unknown-model"}}

	_, err := newTestEngine(p, chain).Generate(context.Background(), Call{Provider: testProvider, Prompt: "q"})
	if domain.TypeOf(err) != domain.ErrorTypeConfigurationMissing {
		t.Fatalf("expected configuration_missing, got %v", err)
	}
	if p.count("unknown-model") != 0 {
		t.Error("provider must not be called without a token ceiling")
	}
}

func TestGenerate_UnsupportedProvider(t *testing.T) {
	p := newFakeProvider()
	e := newTestEngine(p, threeModels)

	for _, id := range []domain.ProviderIdentity{domain.ProviderGemini, "mistral"} {
		_, err := e.Generate(context.Background(), Call{Provider: id, Prompt: "q"})
		if domain.TypeOf(err) != domain.ErrorTypeUnsupportedProvider {
			t.Errorf("%s: expected unsupported_provider, got %v", id, err)
		}
	}

	noClient := New(providerMap{}, chainMap{testProvider: threeModels}, testCapabilities())
	if _, err := noClient.Generate(context.Background(), Call{Provider: testProvider}); domain.TypeOf(err) != domain.ErrorTypeUnsupportedProvider {
		t.Errorf("missing client: expected unsupported_provider, got %v", err)
	}
}

func TestGenerate_TruncatesOversizedPrompt(t *testing.T) {
	p := newFakeProvider()
	p.generate["model-a"] = ok("fine")

	e := newTestEngine(p, threeModels, WithMaxPromptBytes(200))
	if _, err := e.Generate(context.Background(), Call{Provider: testProvider, Prompt: strings.Repeat("x", 1000)}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	sent := p.prompts[0].Prompt
	if len(sent) > 200 || !strings.HasSuffix(sent, TruncationNotice) {
		t.Errorf("prompt not truncated to ceiling: %d bytes, suffix ok=%v", len(sent), strings.HasSuffix(sent, TruncationNotice))
	}
}

func TestGenerate_UsageFallback(t *testing.T) {
	p := newFakeProvider()
	p.generate["model-a"] = func(context.Context, *domain.ProviderCall, int) (*domain.ProviderResult, error) {
		return &domain.ProviderResult{Text: "twelve chars"}, nil
	}

	out, err := newTestEngine(p, threeModels).Generate(context.Background(), Call{Provider: testProvider, Prompt: strings.Repeat("a", 40)})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !out.Estimated || out.InputTokens == 0 || out.OutputTokens != 3 {
		t.Errorf("expected estimated usage, got %+v", out)
	}
}

func TestGenerate_PreferredModelPinned(t *testing.T) {
	p := newFakeProvider()
	p.generate["model-c"] = ok("pinned")

	out, err := newTestEngine(p, threeModels).Generate(context.Background(), Call{
		Provider: testProvider, PreferredModel: "model-c", Prompt: "q",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.UsedModel != "model-c" || p.count("model-a") != 0 {
		t.Errorf("expected pinned model first, got %+v", out)
	}
}

func TestGenerate_CallTimeoutFallsBack(t *testing.T) {
	p := newFakeProvider()
	p.generate["model-a"] = func(ctx context.Context, _ *domain.ProviderCall, _ int) (*domain.ProviderResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.generate["model-b"] = ok("fast")

	e := newTestEngine(p, threeModels,
		WithRetryPolicy(retry.Policy{MaxAttempts: 1}),
		WithTimeoutFunc(func(int) time.Duration { return 20 * time.Millisecond }),
	)
	out, err := e.Generate(context.Background(), Call{Provider: testProvider, Prompt: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.UsedModel != "model-b" {
		t.Errorf("expected timeout on a to fall back to b, got %+v", out)
	}
}

func TestGenerate_CancelledContext(t *testing.T) {
	p := newFakeProvider()
	p.generate["model-a"] = fail(domain.ErrTransient("overloaded"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(p, threeModels).Generate(ctx, Call{Provider: testProvider, Prompt: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if p.count("model-b") != 0 {
		t.Error("cancelled request must not fall back")
	}
}

func TestCallTimeout(t *testing.T) {
	tests := []struct {
		tokens int
		want   time.Duration
	}{
		{0, 60 * time.Second},
		{50000, 60 * time.Second},
		{50001, 120 * time.Second},
		{150000, 120 * time.Second},
		{150001, 180 * time.Second},
	}
	for _, tt := range tests {
		if got := CallTimeout(tt.tokens); got != tt.want {
			t.Errorf("CallTimeout(%d) = %v, want %v", tt.tokens, got, tt.want)
		}
	}
}
