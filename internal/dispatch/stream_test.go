package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// emit streams texts then, if err is set, a terminal error event.
func emit(texts []string, err error) streamFunc {
	return func(ctx context.Context, _ *domain.ProviderCall, _ int) (<-chan domain.StreamEvent, error) {
		out := make(chan domain.StreamEvent)
		go func() {
			defer close(out)
			for _, text := range texts {
				select {
				case out <- domain.StreamEvent{Text: text}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case out <- domain.StreamEvent{Err: err}:
				case <-ctx.Done():
				}
			}
		}()
		return out, nil
	}
}

func refuse(err error) streamFunc {
	return func(context.Context, *domain.ProviderCall, int) (<-chan domain.StreamEvent, error) {
		return nil, err
	}
}

func collect(t *testing.T, e *Engine, call Call) (string, error) {
	t.Helper()
	var text string
	var streamErr error
	for frag, err := range e.Stream(context.Background(), call) {
		if err != nil {
			if streamErr != nil {
				t.Fatalf("more than one terminal error: %v then %v", streamErr, err)
			}
			streamErr = err
			continue
		}
		if streamErr != nil {
			t.Fatal("fragment after terminal error")
		}
		text += frag.Text
	}
	return text, streamErr
}

func TestStream_Success(t *testing.T) {
	p := newFakeProvider()
	p.stream["model-a"] = emit([]string{"Hel", "lo", " world"}, nil)

	text, err := collect(t, newTestEngine(p, threeModels), Call{Provider: testProvider, Prompt: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q", text)
	}
}

func TestStream_FallbackBeforeFirstFragment(t *testing.T) {
	p := newFakeProvider()
	p.stream["model-a"] = refuse(domain.ErrModelIncompatible("request too large"))
	p.stream["model-b"] = emit(nil, domain.ErrModelIncompatible("prompt is too long"))
	p.stream["model-c"] = emit([]string{"from c"}, nil)

	text, err := collect(t, newTestEngine(p, threeModels), Call{Provider: testProvider, Prompt: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "from c" {
		t.Errorf("text = %q", text)
	}
}

func TestStream_RetriesTransientBeforeFirstFragment(t *testing.T) {
	p := newFakeProvider()
	p.stream["model-a"] = func(ctx context.Context, call *domain.ProviderCall, n int) (<-chan domain.StreamEvent, error) {
		if n == 1 {
			return emit(nil, domain.ErrTransient("overloaded"))(ctx, call, n)
		}
		return emit([]string{"ok"}, nil)(ctx, call, n)
	}

	text, err := collect(t, newTestEngine(p, threeModels), Call{Provider: testProvider, Prompt: "q"})
	if err != nil || text != "ok" {
		t.Fatalf("text=%q err=%v", text, err)
	}
	if p.count("model-a") != 2 || p.count("model-b") != 0 {
		t.Errorf("expected retry on model-a only, calls %v", p.calls)
	}
}

func TestStream_NoFallbackAfterFirstFragment(t *testing.T) {
	p := newFakeProvider()
	midStream := domain.ErrTransient("overloaded")
	p.stream["model-a"] = emit([]string{"partial"}, midStream)
	p.stream["model-b"] = emit([]string{"must not appear"}, nil)

	text, err := collect(t, newTestEngine(p, threeModels), Call{Provider: testProvider, Prompt: "q"})
	if !errors.Is(err, midStream) {
		t.Fatalf("expected mid-stream error, got %v", err)
	}
	if text != "partial" {
		t.Errorf("text = %q, want only model-a output", text)
	}
	if p.count("model-a") != 1 || p.count("model-b") != 0 {
		t.Errorf("mid-stream failure must not retry or fall back, calls %v", p.calls)
	}
}

func TestStream_AllModelsExhausted(t *testing.T) {
	p := newFakeProvider()
	for _, m := range threeModels {
		p.stream[m.ID] = refuse(domain.ErrTransient("quota exceeded"))
	}

	_, err := collect(t, newTestEngine(p, threeModels), Call{Provider: testProvider, Prompt: "q"})
	if domain.TypeOf(err) != domain.ErrorTypeAllModelsExhausted {
		t.Fatalf("expected all_models_exhausted, got %v", err)
	}
	for _, m := range threeModels {
		if p.count(m.ID) == 0 {
			t.Errorf("model %s was not attempted", m.ID)
		}
	}
}

func TestStream_FatalBeforeFirstFragment(t *testing.T) {
	p := newFakeProvider()
	p.stream["model-a"] = refuse(domain.ErrInvalidRequest("bad request"))

	_, err := collect(t, newTestEngine(p, threeModels), Call{Provider: testProvider, Prompt: "q"})
	if domain.TypeOf(err) != domain.ErrorTypeInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
	if p.count("model-b") != 0 {
		t.Error("fatal error must not fall back")
	}
}

func TestStream_EmptyStreamCompletes(t *testing.T) {
	p := newFakeProvider()
	p.stream["model-a"] = emit(nil, nil)

	text, err := collect(t, newTestEngine(p, threeModels), Call{Provider: testProvider, Prompt: "q"})
	if err != nil || text != "" {
		t.Errorf("text=%q err=%v", text, err)
	}
}

func TestStream_ConsumerStopCancelsProvider(t *testing.T) {
	p := newFakeProvider()
	cancelled := make(chan struct{})
	p.stream["model-a"] = func(ctx context.Context, _ *domain.ProviderCall, _ int) (<-chan domain.StreamEvent, error) {
		out := make(chan domain.StreamEvent)
		go func() {
			defer close(out)
			for {
				select {
				case out <- domain.StreamEvent{Text: "tick "}:
				case <-ctx.Done():
					close(cancelled)
					return
				}
			}
		}()
		return out, nil
	}

	e := newTestEngine(p, threeModels)
	n := 0
	for _, err := range e.Stream(context.Background(), Call{Provider: testProvider, Prompt: "q"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
		if n == 3 {
			break
		}
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("provider call was not cancelled after the consumer stopped")
	}
}

func TestStream_ParentCancelIsTerminalError(t *testing.T) {
	p := newFakeProvider()
	p.stream["model-a"] = func(ctx context.Context, _ *domain.ProviderCall, _ int) (<-chan domain.StreamEvent, error) {
		out := make(chan domain.StreamEvent)
		go func() {
			defer close(out)
			select {
			case out <- domain.StreamEvent{Text: "first"}:
			case <-ctx.Done():
				return
			}
			<-ctx.Done()
		}()
		return out, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var gotErr error
	for frag, err := range newTestEngine(p, threeModels).Stream(ctx, Call{Provider: testProvider, Prompt: "q"}) {
		if err != nil {
			gotErr = err
			continue
		}
		if frag.Text == "first" {
			cancel()
		}
	}
	if !errors.Is(gotErr, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", gotErr)
	}
}
